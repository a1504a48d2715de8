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

package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veladb/wcdriver/host"
)

func TestSucceedDeliversResult(t *testing.T) {
	fut := New(Statement{Query: "SELECT 1"}, time.Now().Add(time.Second))
	result := host.Result{ColumnNames: []string{"c"}}
	fut.Succeed(result)

	<-fut.Done()
	got, err := fut.Wait()
	require.NoError(t, err)
	assert.Equal(t, result, got)
	assert.Equal(t, Succeeded, fut.State())
}

func TestFailDeliversError(t *testing.T) {
	fut := New(Statement{Query: "SELECT 1"}, time.Now().Add(time.Second))
	fut.Fail(assert.AnError)

	_, err := fut.Wait()
	assert.Equal(t, assert.AnError, err)
	assert.Equal(t, Failed, fut.State())
}

func TestDoubleCompletionPanics(t *testing.T) {
	fut := New(Statement{}, time.Now().Add(time.Second))
	fut.Succeed(host.Result{})
	assert.Panics(t, func() { fut.Succeed(host.Result{}) })
}

func TestDoubleCompletionAcrossSucceedAndFailPanics(t *testing.T) {
	fut := New(Statement{}, time.Now().Add(time.Second))
	fut.Fail(assert.AnError)
	assert.Panics(t, func() { fut.Succeed(host.Result{}) })
}

func TestRecordAttemptTracksTriedHosts(t *testing.T) {
	fut := New(Statement{}, time.Now().Add(time.Second))
	assert.Equal(t, 0, fut.Attempts())
	fut.RecordAttempt("h1")
	fut.RecordAttempt("h2")
	assert.Equal(t, 2, fut.Attempts())
	assert.True(t, fut.Tried("h1"))
	assert.True(t, fut.Tried("h2"))
	assert.False(t, fut.Tried("h3"))
	assert.ElementsMatch(t, []string{"h1", "h2"}, fut.TriedHosts())
}
