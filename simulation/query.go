package simulation

import (
	"fmt"
	"strconv"
)

// QueryType distinguishes the two kinds of query in a simulation
type QueryType int

const (
	QueryTypeAllocation QueryType = iota
	QueryTypeFree
)

var queryTypeMapping = map[QueryType]string{
	QueryTypeAllocation: "QueryTypeAllocation",
	QueryTypeFree:       "QueryTypeFree",
}

func (t QueryType) String() string {
	str, ok := queryTypeMapping[t]
	if !ok {
		return "unknown"
	}
	return str
}

// AllocationQuery asks for Size contiguous bytes
type AllocationQuery struct {
	Size int
}

// FreeQuery releases the allocation made by the query at AllocationQueryIndex (0-based)
type FreeQuery struct {
	AllocationQueryIndex int
}

// Query holds exactly one of AllocationQuery or FreeQuery. Use AsAllocationQuery and
// AsFreeQuery to read it.
type Query struct {
	queryType  QueryType
	allocation AllocationQuery
	free       FreeQuery
}

func NewAllocationQuery(size int) Query {
	return Query{
		queryType:  QueryTypeAllocation,
		allocation: AllocationQuery{Size: size},
	}
}

func NewFreeQuery(allocationQueryIndex int) Query {
	return Query{
		queryType: QueryTypeFree,
		free:      FreeQuery{AllocationQueryIndex: allocationQueryIndex},
	}
}

// ParseQuery decodes the numeric form of a query. A non-negative value is an allocation of
// that many bytes, and a negative value -k frees the allocation made by query k-1.
func ParseQuery(value int) Query {
	if value >= 0 {
		return NewAllocationQuery(value)
	}

	return NewFreeQuery(-(value + 1))
}

// Type returns which kind of query this is
func (q Query) Type() QueryType { return q.queryType }

// AsAllocationQuery returns the query body and true if q is an allocation query
func (q Query) AsAllocationQuery() (AllocationQuery, bool) {
	if q.queryType != QueryTypeAllocation {
		return AllocationQuery{}, false
	}
	return q.allocation, true
}

// AsFreeQuery returns the query body and true if q is a free query
func (q Query) AsFreeQuery() (FreeQuery, bool) {
	if q.queryType != QueryTypeFree {
		return FreeQuery{}, false
	}
	return q.free, true
}

// Encode returns the numeric form of q, the inverse of ParseQuery
func (q Query) Encode() int {
	if q.queryType == QueryTypeFree {
		return -q.free.AllocationQueryIndex - 1
	}
	return q.allocation.Size
}

func (q Query) String() string {
	switch q.queryType {
	case QueryTypeAllocation:
		return fmt.Sprintf("allocate(%d)", q.allocation.Size)
	case QueryTypeFree:
		return "free(#" + strconv.Itoa(q.free.AllocationQueryIndex) + ")"
	}

	return q.queryType.String()
}
