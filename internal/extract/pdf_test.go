package extract

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctorfy/doctorfy/internal/common"
)

// pngMagic is enough of a PNG header for content-type sniffing.
var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

// fakeRunner dispatches on the binary name so one stub serves both tools.
type fakeRunner struct {
	text       string
	textErr    error
	imageCount int
	imagesErr  error
}

func (f fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	switch name {
	case "pdftotext":
		if f.textErr != nil {
			return nil, []byte("syntax error"), f.textErr
		}
		return []byte(f.text), nil, nil
	case "pdfimages":
		if f.imagesErr != nil {
			return nil, []byte("no images"), f.imagesErr
		}
		prefix := args[len(args)-1]
		for i := 0; i < f.imageCount; i++ {
			if err := os.WriteFile(fmt.Sprintf("%s-%03d.png", prefix, i), pngMagic, 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %s", name)
}

func newTestExtractor(r Runner, maxImages int) *Extractor {
	return NewExtractor(Config{Pdftotext: "pdftotext", Pdfimages: "pdfimages", MaxImages: maxImages, Runner: r}, nil)
}

func TestExtractTextAndImages(t *testing.T) {
	e := newTestExtractor(fakeRunner{text: "lab results\x00 page 1", imageCount: 2}, 5)

	res, err := e.Extract(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "lab results page 1", res.Text, "NUL bytes are stripped")
	require.Len(t, res.Images, 2)
	assert.Equal(t, "image/png", res.Images[0].MediaType)
}

func TestExtractCapsEmbeddedImages(t *testing.T) {
	e := newTestExtractor(fakeRunner{text: "report", imageCount: 10}, 5)

	res, err := e.Extract(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Len(t, res.Images, 5)
}

func TestExtractEmptyTextIsNotAnError(t *testing.T) {
	e := newTestExtractor(fakeRunner{text: "", imageCount: 1}, 5)

	res, err := e.Extract(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Len(t, res.Images, 1)
}

func TestExtractUnreadablePDFIsParseError(t *testing.T) {
	e := newTestExtractor(fakeRunner{textErr: fmt.Errorf("exit status 1")}, 5)

	_, err := e.Extract(context.Background(), []byte("not a pdf"))
	require.Error(t, err)
	assert.Equal(t, common.KindParseError, common.KindOf(err))
}

func TestExtractImageFailureDegradesToTextOnly(t *testing.T) {
	e := newTestExtractor(fakeRunner{text: "text survives", imagesErr: fmt.Errorf("exit status 1")}, 5)

	res, err := e.Extract(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "text survives", res.Text)
	assert.Empty(t, res.Images)
}

func TestSniffMediaTypeFallsBackToJPEG(t *testing.T) {
	assert.Equal(t, "image/png", sniffMediaType(pngMagic))
	assert.Equal(t, "image/jpeg", sniffMediaType([]byte("garbage bytes with no magic")))
}
