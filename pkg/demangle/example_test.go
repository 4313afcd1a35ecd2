package demangle_test

import (
	"fmt"

	"github.com/cratemap/cratemap/pkg/demangle"
)

func ExampleDemangle() {
	id, ok := demangle.Demangle("_ZN5serde3ser9to_string17h1234567890abcdefE")
	if !ok {
		fmt.Println("not a mangled symbol")
		return
	}
	fmt.Println(id.Key())
	fmt.Println(id.Package())
	fmt.Println(id.Hash)
	// Output:
	// serde::ser::to_string
	// serde
	// 1234567890abcdef
}

func ExampleDemangle_notMangled() {
	_, ok := demangle.Demangle("memcpy")
	fmt.Println(ok)
	// Output:
	// false
}
