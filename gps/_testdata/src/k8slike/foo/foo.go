// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package foo

import (
	"k8slike2/bar"
)

// Foo is a dummy function
func Foo() {
	bar.Bar()
}
