package extract

// Image is a single embedded raster payload pulled out of a PDF.
type Image struct {
	MediaType string
	Data      []byte
}

// Result is the extractable content of one PDF artifact. Text may be empty
// for scan-only documents; callers can still proceed on images alone.
type Result struct {
	Text   string
	Images []Image
}
