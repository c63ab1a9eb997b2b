package recorder

// Field is one named column value.
type Field struct {
	Name  string
	Value string
}

// Row is an ordered set of fields. The order of the first row written to a
// file fixes the column order of that file.
type Row []Field

// Names returns the field names in order.
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

func (r Row) lookup() map[string]string {
	m := make(map[string]string, len(r))
	for _, f := range r {
		m[f.Name] = f.Value
	}
	return m
}
