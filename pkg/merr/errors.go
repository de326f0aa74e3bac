// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package merr collects the small set of error helpers the storage and
// executor layers share: combining independent failures and wrapping
// I/O errors with the path that caused them.
package merr

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
)

// ErrIoFailed wraps an underlying filesystem error that isn't a
// not-found condition.
var ErrIoFailed = errors.New("merr: io failed")

// Combine merges zero or more errors into one, dropping nils. Returns
// nil if every argument is nil.
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

// WrapErrIoFailed annotates err with the path that failed.
func WrapErrIoFailed(path string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrIoFailed, "%s: %v", path, err)
}
