package taurus

import (
	"testing"
)

func TestOmap(t *testing.T) {
	m := newOmap[int, int]()

	for i := range 9 {
		m.setIfAbsent(8-i, 8-i)
	}
	i := 0
	for k, j := range m.all() {
		if j != i {
			t.Fatalf("expected val %v, got %v for k='%v'", i, j, k)
		}
		i++
	}

	// delete odds over 2, from inside the range.
	i = 0
	for k := range m.all() {
		if i > 2 && i%2 == 1 {
			m.delkey(k)
		}
		i++
	}
	if ne := m.Len(); ne != 6 {
		t.Fatalf("expected 6 now, have %v", ne)
	}

	expect := []int{0, 1, 2, 4, 6, 8}
	i = 0
	for k, j := range m.all() {
		if j != expect[i] {
			t.Fatalf("expected val %v, got %v for k='%v'", expect[i], j, k)
		}
		i++
	}
	if i != len(expect) {
		t.Fatalf("rest of the set? missing '%#v'", expect[i:])
	}
}

func TestOmapDeleteAheadDuringRange(t *testing.T) {
	m := newOmap[string, int]()
	m.setIfAbsent("a", 1)
	m.setIfAbsent("b", 2)
	m.setIfAbsent("c", 3)

	var seen []string
	for k := range m.all() {
		seen = append(seen, k)
		if k == "a" {
			m.delkey("b")
		}
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "c" {
		t.Fatalf("expected [a c], got %v", seen)
	}
}

func TestOmapBasicOperations(t *testing.T) {
	m := newOmap[int, int]()

	if m.Len() != 0 {
		t.Errorf("expected empty map, got len %d", m.Len())
	}

	if !m.setIfAbsent(1, 42) {
		t.Errorf("setIfAbsent on a missing key must insert")
	}
	if val, found := m.get2(1); !found || val != 42 {
		t.Errorf("get2 after insert: expected (42, true), got (%v, %v)", val, found)
	}

	if m.setIfAbsent(1, 99) {
		t.Errorf("setIfAbsent on a present key must not insert")
	}
	if val, _ := m.get2(1); val != 42 {
		t.Errorf("setIfAbsent must not overwrite: got %v", val)
	}

	if !m.delkey(1) {
		t.Errorf("delkey(1) should find the key")
	}
	if m.delkey(1) {
		t.Errorf("second delkey(1) should not find the key")
	}
	if _, found := m.get2(1); found {
		t.Errorf("key 1 still present after delete")
	}
	if m.Len() != 0 {
		t.Errorf("expected empty map after delete, got len %d", m.Len())
	}
}
