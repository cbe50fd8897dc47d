package store

import (
	"reflect"
	"testing"
)

func TestNormalizeTag(t *testing.T) {
	cases := map[string]string{
		"  Tradicional ": "tradicional",
		" GELADO":        "gelado",
		"Latte":          "latte",
		"":               "",
		"   ":            "",
		"já-moído":       "já-moído",
	}
	for in, expect := range cases {
		if got := NormalizeTag(in); got != expect {
			t.Fatalf("normalize %q => %q, expected %q", in, got, expect)
		}
	}
}

func TestNormalizeTagIdempotent(t *testing.T) {
	inputs := []string{"  Foo  ", "BAR", "Baz Qux", "", " MiXeD\t"}
	for _, in := range inputs {
		once := NormalizeTag(in)
		if twice := NormalizeTag(once); twice != once {
			t.Fatalf("normalize not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestNormalizeTagsKeepsOrderAndDuplicates(t *testing.T) {
	in := []string{"B", " a ", "b", "  ", "A"}
	got := NormalizeTags(in)
	expect := []string{"b", "a", "b", "a"}
	if !reflect.DeepEqual(got, expect) {
		t.Fatalf("normalize tags %v => %v, expected %v", in, got, expect)
	}
}
