// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package host

// Result is the thin typed view handed back through a RequestFuture's
// Succeeded state. It deliberately stays shallow — no query-building, no
// per-column typed decoding — mirroring how little the original driver's
// result.cpp/row.cpp do; that surface lives outside the core's budget.
type Result struct {
	ColumnNames []string
	Rows        []Row
	TraceID     string
}

// Row is one row of a Result: raw column values in column order. Typed
// accessors are intentionally not provided here.
type Row struct {
	Values [][]byte
}

// Len returns the number of column values in the row.
func (r Row) Len() int {
	return len(r.Values)
}

// Value returns the raw bytes of column i, or nil if i is out of range.
func (r Row) Value(i int) []byte {
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}
