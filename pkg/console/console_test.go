package console

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	p.Printf("\t%s:%d", "10.0.0.5", 7400)
	assert.Equal(t, "\t10.0.0.5:7400\n", buf.String())
}

func TestBlockIsNotInterleaved(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Block("header", "\tline-a", "\tline-b")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 150)
	for i := 0; i < len(lines); i += 3 {
		assert.Equal(t, []string{"header", "\tline-a", "\tline-b"}, lines[i:i+3])
	}
}

func TestBlockEmptyAndNilWriter(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Block()
	assert.Empty(t, buf.String())

	New(nil).Printf("dropped")
}
