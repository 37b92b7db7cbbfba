package pkid

import (
	"testing"
)

func BenchmarkAllocateRelease(b *testing.B) {
	a := New(0)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		id, ok := a.Allocate()
		if !ok {
			b.Fatal("allocator exhausted")
		}
		a.Release(id)
	}
}

func BenchmarkAllocateReleaseParallel(b *testing.B) {
	a := New(0)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			id, ok := a.Allocate()
			if !ok {
				continue
			}
			a.Release(id)
		}
	})
}
