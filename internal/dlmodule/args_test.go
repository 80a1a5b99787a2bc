package dlmodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"quoted", `arg1 "arg two" arg3`, []string{"arg1", "arg two", "arg3"}},
		{"tabs and runs", "a\t\tb   c", []string{"a", "b", "c"}},
		{"leading and trailing", "  a b  ", []string{"a", "b"}},
		{"empty", "", nil},
		{"blank", " \t ", nil},
		{"unterminated quote", `a "bc d`, []string{"a", "bc d"}},
		{"escaped quote kept", `"a \"b\" c" d`, []string{`a \"b\" c`, "d"}},
		{"trailing backslash", `"abc\`, []string{`abc\`}},
		{"empty quotes", `"" x`, []string{"", "x"}},
		{"quote glued to word", `ab"cd"`, []string{`ab"cd"`}},
		{"eight max", "1 2 3 4 5 6 7 8 9 10", []string{"1", "2", "3", "4", "5", "6", "7", "8"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitArgs(tt.in))
		})
	}
}

func TestSplitArgsTerminatesInPlace(t *testing.T) {
	buf := []byte(`run "x y" z`)
	got := splitArgs(buf)
	assert.Equal(t, []string{"run", "x y", "z"}, got)
	assert.Equal(t, []byte("run\x00\x00x y\x00\x00z"), buf)
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "hello", moduleName("/mods/hello.mo", 8))
	assert.Equal(t, "hello", moduleName("hello.mo", 8))
	assert.Equal(t, "a.b", moduleName("/x/a.b.so", 8))
	assert.Equal(t, "averylo", moduleName("/mods/averylongname.mo", 8))
	assert.Equal(t, ".hidden", moduleName("/m/.hidden", 16))
	assert.Equal(t, "noext", moduleName("noext", 0))
}

func TestJoinArgs(t *testing.T) {
	args := []string{"hello", "big world", "", "a\tb", "x"}
	line := JoinArgs(args...)
	assert.Equal(t, "hello \"big world\" \"\" \"a\tb\" x", line)
	assert.Equal(t, args, SplitArgs(line))
	assert.Empty(t, JoinArgs())
}
