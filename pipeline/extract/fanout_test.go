package extract

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRasterizer struct{ calls int }

func (f *fakeRasterizer) Render(ctx context.Context, path string, pageNum int) ([]byte, error) {
	f.calls++
	return []byte(fmt.Sprintf("page-%d-image", pageNum)), nil
}

type fakeOCR struct{}

func (fakeOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	return "recognized:" + string(image), nil
}

type failingOCR struct{ failPage int }

func (f failingOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	expect := fmt.Sprintf("page-%d-image", f.failPage)
	if string(image) == expect {
		return "", fmt.Errorf("ocr engine rejected page %d", f.failPage)
	}
	return "ok:" + string(image), nil
}

func TestNewFanOutExtractor_ClampsPageWorkers(t *testing.T) {
	e := NewFanOutExtractor(&fakeRasterizer{}, fakeOCR{}, 0, nil)
	assert.Equal(t, 1, e.pageWorkers)
}
