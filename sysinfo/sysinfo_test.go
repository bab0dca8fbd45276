package sysinfo

import (
	"testing"

	"github.com/matryer/is"
)

func TestClampCores(t *testing.T) {
	is := is.New(t)
	type tc struct {
		logical  int
		maxCores int
		mem      uint64
		perCore  uint64
		expected int
	}
	cases := []tc{
		{16, 64, 0, 0, 16},
		{16, 8, 0, 0, 8},
		{16, 0, 0, 0, 16},
		{16, 64, 4 << 30, 1024, 4},
		{16, 64, 512 << 20, 1024, 1},
		{0, 64, 0, 0, 1},
		{4, 64, 64 << 30, 256, 4},
	}
	for _, c := range cases {
		is.Equal(ClampCores(c.logical, c.maxCores, c.mem, c.perCore), c.expected)
	}
}

func TestDetect(t *testing.T) {
	is := is.New(t)
	a := Detect(2, 0)
	b := Detect(2, 0)
	is.True(a.WorkerID != "")
	is.True(a.WorkerID != b.WorkerID) // random per process start
	is.True(a.CPUBrand != "")
	is.True(a.Cores >= 1 && a.Cores <= 2)
}
