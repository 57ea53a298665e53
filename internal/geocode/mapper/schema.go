package mapper

// FieldKind is the value type of an output attribute.
type FieldKind string

const (
	KindText    FieldKind = "text"
	KindReal    FieldKind = "real"
	KindInteger FieldKind = "integer"
)

// Field maps a source property key to an output attribute.
type Field struct {
	Key  string    `json:"key"`
	Name string    `json:"name" validate:"required"`
	Kind FieldKind `json:"kind" validate:"omitempty,oneof=text real integer"`
}

// Schema is an ordered list of output fields.
type Schema []Field

// Names returns the display names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the field with the given display name, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

var standardFields = Schema{
	{Key: "name", Name: "name", Kind: KindText},
	{Key: "label", Name: "label", Kind: KindText},
	{Key: "confidence", Name: "confidence", Kind: KindReal},
	{Key: "accuracy", Name: "accuracy", Kind: KindText},
	{Key: "source", Name: "source", Kind: KindText},
	{Key: "layer", Name: "layer", Kind: KindText},
	{Key: "street", Name: "street", Kind: KindText},
	{Key: "housenumber", Name: "housenumber", Kind: KindText},
	{Key: "postalcode", Name: "postalcode", Kind: KindText},
	{Key: "locality", Name: "locality", Kind: KindText},
	{Key: "microhood", Name: "microhood", Kind: KindText},
	{Key: "neighbourhood", Name: "neighborhood", Kind: KindText},
	{Key: "borough", Name: "borough", Kind: KindText},
	{Key: "macrohood", Name: "macrohood", Kind: KindText},
	{Key: "localadmin", Name: "localadmin", Kind: KindText},
	{Key: "county", Name: "county", Kind: KindText},
	{Key: "macrocounty", Name: "macrocounty", Kind: KindText},
	{Key: "region", Name: "region", Kind: KindText},
	{Key: "macroregion", Name: "macroregion", Kind: KindText},
	{Key: "country", Name: "country", Kind: KindText},
	{Key: "empire", Name: "empire", Kind: KindText},
	{Key: "continent", Name: "continent", Kind: KindText},
}

// hierarchy levels that carry a *_gid property in debug mode
var gidLevels = []string{
	"locality",
	"microhood",
	"neighbourhood",
	"borough",
	"macrohood",
	"localadmin",
	"county",
	"macrocounty",
	"region",
	"macroregion",
	"country",
	"empire",
	"continent",
}

func debugFields() Schema {
	fields := make(Schema, 0, len(gidLevels))
	for _, level := range gidLevels {
		fields = append(fields, Field{Key: level + "_gid", Name: level + "_id", Kind: KindText})
	}
	return fields
}

// source keys that Pelias deployments spell differently
var keyAliases = map[string]string{
	"neighborhood": "neighbourhood",
}
