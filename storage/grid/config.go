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
	"github.com/m3db/m3x/instrument"
	"gopkg.in/validator.v2"
)

// RepairQueueConfiguration is the YAML configuration of the repair
// queue's capacity.
type RepairQueueConfiguration struct {
	// BlocksMax is the slack reserved for standalone block repairs.
	BlocksMax int `yaml:"blocksMax" validate:"nonzero,min=1"`

	// TablesMax caps concurrent table repairs; zero disables table
	// repair entirely.
	TablesMax int `yaml:"tablesMax" validate:"min=0"`
}

// NewOptions constructs repair queue options from the configuration.
func (c RepairQueueConfiguration) NewOptions(
	instrumentOpts instrument.Options,
) (Options, error) {
	if err := validator.Validate(c); err != nil {
		return nil, err
	}
	opts := NewOptions().
		SetBlocksMax(c.BlocksMax).
		SetTablesMax(c.TablesMax).
		SetInstrumentOptions(instrumentOpts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}
