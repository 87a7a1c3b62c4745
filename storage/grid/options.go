// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package grid

import (
	"errors"

	xerrors "github.com/m3db/m3x/errors"
	"github.com/m3db/m3x/instrument"

	"github.com/blockgrid/blockgrid/storage/lsm"
)

const (
	// defaultBlocksMax is the default slack for standalone block repairs
	defaultBlocksMax = 64

	// defaultTablesMax is the default cap on concurrent table repairs
	defaultTablesMax = 8
)

var (
	errBlocksMaxPositive    = errors.New("blocks max must be a positive integer")
	errTablesMaxNonNegative = errors.New("tables max must be non-negative")
	errNoIndexSchema        = errors.New("no index schema set")
)

type options struct {
	blocksMax      int
	tablesMax      int
	schema         IndexSchema
	instrumentOpts instrument.Options
}

// NewOptions creates new repair queue options.
func NewOptions() Options {
	return &options{
		blocksMax:      defaultBlocksMax,
		tablesMax:      defaultTablesMax,
		schema:         lsm.NewSchema(),
		instrumentOpts: instrument.NewOptions(),
	}
}

func (o *options) Validate() error {
	if o.blocksMax <= 0 {
		return xerrors.NewInvalidParamsError(errBlocksMaxPositive)
	}
	if o.tablesMax < 0 {
		return xerrors.NewInvalidParamsError(errTablesMaxNonNegative)
	}
	if o.schema == nil {
		return xerrors.NewInvalidParamsError(errNoIndexSchema)
	}
	return nil
}

func (o *options) SetBlocksMax(value int) Options {
	opts := *o
	opts.blocksMax = value
	return &opts
}

func (o *options) BlocksMax() int {
	return o.blocksMax
}

func (o *options) SetTablesMax(value int) Options {
	opts := *o
	opts.tablesMax = value
	return &opts
}

func (o *options) TablesMax() int {
	return o.tablesMax
}

func (o *options) SetIndexSchema(value IndexSchema) Options {
	opts := *o
	opts.schema = value
	return &opts
}

func (o *options) IndexSchema() IndexSchema {
	return o.schema
}

func (o *options) SetInstrumentOptions(value instrument.Options) Options {
	opts := *o
	opts.instrumentOpts = value
	return &opts
}

func (o *options) InstrumentOptions() instrument.Options {
	return o.instrumentOpts
}
