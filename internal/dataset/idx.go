package dataset

import (
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// IDX magic numbers for unsigned-byte tensors of rank 3 and 1.
const (
	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801
)

// maxIDXItems bounds the item count read from an IDX header before any
// buffer is sized from it.
const maxIDXItems = 1 << 20

// Gzipped IDX file names shared by MNIST and Fashion-MNIST.
const (
	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"
)

// IDXFiles lists the four files an IDX directory must contain.
var IDXFiles = []string{TrainImagesFile, TrainLabelsFile, TestImagesFile, TestLabelsFile}

// IDXProvider reads the gzipped IDX files from the first of Dirs that holds
// all of them. The last ValidationSize training rows become the validation
// split.
type IDXProvider struct {
	Dirs           []string
	ValidationSize int
}

// Load implements Provider.
func (p IDXProvider) Load(ctx context.Context) (Splits, error) {
	dir, err := FindIDXDir(p.Dirs)
	if err != nil {
		return Splits{}, err
	}
	log.Printf("dataset=idx dir=%s", dir)

	train, err := readIDXSplit(ctx, filepath.Join(dir, TrainImagesFile), filepath.Join(dir, TrainLabelsFile))
	if err != nil {
		return Splits{}, err
	}
	test, err := readIDXSplit(ctx, filepath.Join(dir, TestImagesFile), filepath.Join(dir, TestLabelsFile))
	if err != nil {
		return Splits{}, err
	}
	train, val, err := HoldOut(train, p.ValidationSize)
	if err != nil {
		return Splits{}, err
	}
	return Splits{Train: train, Val: val, Test: test}, nil
}

func readIDXSplit(ctx context.Context, imagesPath, labelsPath string) (Split, error) {
	if err := ctx.Err(); err != nil {
		return Split{}, err
	}
	var images *mat.Dense
	if err := withGzip(imagesPath, func(r io.Reader) (err error) {
		images, err = ReadIDXImages(r)
		return err
	}); err != nil {
		return Split{}, err
	}
	var labels []int
	if err := withGzip(labelsPath, func(r io.Reader) (err error) {
		labels, err = ReadIDXLabels(r)
		return err
	}); err != nil {
		return Split{}, err
	}
	if n, _ := images.Dims(); n != len(labels) {
		return Split{}, fmt.Errorf("dataset: %s has %d images but %s has %d labels",
			filepath.Base(imagesPath), n, filepath.Base(labelsPath), len(labels))
	}
	return Split{Images: images, Labels: labels}, nil
}

func withGzip(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open idx: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gunzip %s: %w", path, err)
	}
	defer gz.Close()

	if err := fn(gz); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// ReadIDXImages parses an uncompressed IDX3 image file into an N×(rows·cols)
// matrix scaled to [0, 1].
func ReadIDXImages(r io.Reader) (*mat.Dense, error) {
	var hdr [4]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("idx header: %w", err)
	}
	if hdr[0] != idxImagesMagic {
		return nil, fmt.Errorf("idx images: bad magic %#x", hdr[0])
	}
	n, rows, cols := int(hdr[1]), int(hdr[2]), int(hdr[3])
	if n > maxIDXItems {
		return nil, fmt.Errorf("idx images: header claims %d images, limit is %d", n, maxIDXItems)
	}
	if n == 0 || rows != ImageSide || cols != ImageSide {
		return nil, fmt.Errorf("idx images: got %d images of %dx%d, want %dx%d", n, rows, cols, ImageSide, ImageSide)
	}
	raw := make([]byte, n*rows*cols)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("idx images: %w", err)
	}
	data := make([]float64, len(raw))
	for i, b := range raw {
		data[i] = float64(b) / 255
	}
	return mat.NewDense(n, rows*cols, data), nil
}

// ReadIDXLabels parses an uncompressed IDX1 label file.
func ReadIDXLabels(r io.Reader) ([]int, error) {
	var hdr [2]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("idx header: %w", err)
	}
	if hdr[0] != idxLabelsMagic {
		return nil, fmt.Errorf("idx labels: bad magic %#x", hdr[0])
	}
	if hdr[1] > maxIDXItems {
		return nil, fmt.Errorf("idx labels: header claims %d labels, limit is %d", hdr[1], maxIDXItems)
	}
	raw := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("idx labels: %w", err)
	}
	labels := make([]int, len(raw))
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}
