package dataset

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample represents a paired record from a WebDataset shard.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// ReadShard returns the image/label pairs of the shard at path in the order
// their pairs complete.
func ReadShard(ctx context.Context, path string, pendingCap int) ([]Sample, error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pending := make(map[string]*partial)
	var out []Sample

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, ext)

		part := pending[key]
		if part == nil {
			part = &partial{}
		}
		switch ext {
		case ".jpg", ".jpeg", ".png":
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read image %s: %w", name, err)
			}
			part.image = data
		case ".cls":
			payload, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read label %s: %w", name, err)
			}
			label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				return nil, fmt.Errorf("parse label %s: %w", name, err)
			}
			part.label = &label
		default:
			// ignore unknown extension
			continue
		}

		if part.ready() {
			out = append(out, Sample{Key: key, Image: part.image, Label: *part.label})
			delete(pending, key)
			continue
		}
		pending[key] = part
		if len(pending) > pendingCap {
			return nil, ErrPendingOverflow
		}
	}

	if len(pending) > 0 {
		return nil, fmt.Errorf("%s: %d samples incomplete", path, len(pending))
	}
	return out, nil
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}

// ShardProvider builds splits from WebDataset shards: TrainRoot supplies the
// training and validation examples, TestRoot the test examples.
type ShardProvider struct {
	TrainRoot      string
	TestRoot       string
	ValidationSize int
	PendingCap     int
}

// Load implements Provider.
func (p ShardProvider) Load(ctx context.Context) (Splits, error) {
	train, err := p.loadRoot(ctx, p.TrainRoot)
	if err != nil {
		return Splits{}, err
	}
	test, err := p.loadRoot(ctx, p.TestRoot)
	if err != nil {
		return Splits{}, err
	}
	train, val, err := HoldOut(train, p.ValidationSize)
	if err != nil {
		return Splits{}, err
	}
	return Splits{Train: train, Val: val, Test: test}, nil
}

func (p ShardProvider) loadRoot(ctx context.Context, root string) (Split, error) {
	shards, err := DiscoverShards(root)
	if err != nil {
		return Split{}, fmt.Errorf("discover shards under %s: %w", root, err)
	}
	if len(shards) == 0 {
		return Split{}, fmt.Errorf("no shards discovered under %s", root)
	}
	log.Printf("root=%s shards=%d", root, len(shards))

	var rows [][]float64
	var labels []int
	for _, shard := range shards {
		samples, err := ReadShard(ctx, shard, p.PendingCap)
		if err != nil {
			return Split{}, err
		}
		for _, s := range samples {
			features, err := ExtractFeatures(s.Image)
			if err != nil {
				return Split{}, fmt.Errorf("%s/%s: %w", filepath.Base(shard), s.Key, err)
			}
			rows = append(rows, features)
			labels = append(labels, s.Label)
		}
	}
	if len(rows) == 0 {
		return Split{}, fmt.Errorf("no samples under %s", root)
	}
	return fromRows(rows, labels, ImageSize), nil
}

// ExtractFeatures decodes an encoded image and samples it on an
// ImageSide×ImageSide grid as grayscale intensities in [0, 1].
func ExtractFeatures(raw []byte) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}
	features := make([]float64, ImageSize)
	for gy := 0; gy < ImageSide; gy++ {
		py := bounds.Min.Y + gy*height/ImageSide
		for gx := 0; gx < ImageSide; gx++ {
			px := bounds.Min.X + gx*width/ImageSide
			r, g, b, _ := img.At(px, py).RGBA()
			features[gy*ImageSide+gx] = (float64(r) + float64(g) + float64(b)) / (3 * 65535.0)
		}
	}
	return features, nil
}
