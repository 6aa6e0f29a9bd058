package types

// Query selects documents from one collection with equality filters,
// an optional ordering and a row limit.
type Query struct {
	Collection string
	Filters    []Filter
	Order      *Order
	Max        int
}

// Filter is a single field comparison
type Filter struct {
	Field string
	Op    string
	Value interface{}
}

// Order sorts results by a data field
type Order struct {
	Field      string
	Descending bool
}

// Supported filter operators
const (
	OpEqual    = "=="
	OpNotEqual = "!="
	OpLess     = "<"
	OpLessEq   = "<="
	OpGreater  = ">"
	OpGreatEq  = ">="
)

func NewQuery(collection string) *Query {
	return &Query{Collection: collection}
}

func (q *Query) Where(field, op string, value interface{}) *Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q *Query) OrderBy(field string, descending bool) *Query {
	q.Order = &Order{Field: field, Descending: descending}
	return q
}

func (q *Query) Limit(n int) *Query {
	q.Max = n
	return q
}

// Validate rejects unknown operators and field names that could not be
// safely embedded in a JSON path
func (q *Query) Validate() error {
	if !IsValidCollection(q.Collection) {
		return ErrInvalidCollection
	}
	for _, f := range q.Filters {
		if !IsValidFieldName(f.Field) {
			return ErrInvalidFieldName
		}
		if !IsValidOperator(f.Op) {
			return ErrInvalidOperator
		}
	}
	if q.Order != nil && !IsValidFieldName(q.Order.Field) {
		return ErrInvalidFieldName
	}
	if q.Max < 0 {
		return ErrInvalidLimit
	}
	return nil
}

func IsValidOperator(op string) bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEq, OpGreater, OpGreatEq:
		return true
	default:
		return false
	}
}
