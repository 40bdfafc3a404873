package iex

import (
	"iexcloud/pkg/batch"
	"iexcloud/pkg/normalize"
)

// Response is the result of a facade call: Single for one symbol or a
// symbol-less endpoint, Batch for several symbols.
type Response struct {
	Single *normalize.Result
	Batch  *batch.Result
}

// Result returns the single result, or the merged batch result.
func (r *Response) Result() *normalize.Result {
	if r.Single != nil {
		return r.Single
	}
	if r.Batch != nil {
		return r.Batch.Merged
	}
	return nil
}

// Table returns the tabular rendering, or nil in structured format.
func (r *Response) Table() *normalize.Table {
	if res := r.Result(); res != nil {
		return res.Table
	}
	return nil
}

// Records returns every record, across symbols for a batch.
func (r *Response) Records() []*normalize.Record {
	if res := r.Result(); res != nil {
		return res.Records
	}
	return nil
}

// IsBatch reports whether several symbols were requested.
func (r *Response) IsBatch() bool {
	return r.Batch != nil
}
