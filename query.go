package tursoorm

import "fmt"

// Query is compiled SQL text together with its positional parameters.
// Params may hold Placeholder markers which are resolved on every execution.
type Query struct {
	SQL    string
	Params []any
}

// Placeholder marks a parameter whose value is supplied at execution time.
type Placeholder struct {
	Name string
}

// NewPlaceholder returns a Placeholder for the given name.
func NewPlaceholder(name string) Placeholder {
	return Placeholder{Name: name}
}

func (p Placeholder) String() string {
	return ":" + p.Name
}

// FillPlaceholders resolves every Placeholder in params against values and
// returns a new slice. params itself is never modified.
func FillPlaceholders(params []any, values map[string]any) ([]any, error) {
	filled := make([]any, len(params))
	for i, p := range params {
		switch x := p.(type) {
		case Placeholder:
			v, ok := values[x.Name]
			if !ok {
				return nil, fmt.Errorf("%w: no value for %q", ErrMissingPlaceholder, x.Name)
			}
			filled[i] = v
		case *Placeholder:
			if x == nil {
				filled[i] = nil
				continue
			}
			v, ok := values[x.Name]
			if !ok {
				return nil, fmt.Errorf("%w: no value for %q", ErrMissingPlaceholder, x.Name)
			}
			filled[i] = v
		default:
			filled[i] = p
		}
	}
	return filled, nil
}
