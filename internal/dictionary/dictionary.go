// Package dictionary loads, persists, and orders pretrained NMF
// dictionaries (spec.md §4.3, C3). Dictionaries are read-only once
// loaded into the real-time pipeline.
package dictionary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gccnmf/internal/nmf"

	"gonum.org/v1/gonum/mat"
)

// ErrIO is returned when a dictionary artifact cannot be read or written.
var ErrIO = errors.New("dictionary: io error")

// Type distinguishes a pretrained (learned) dictionary from a
// randomly-seeded one, mirroring the source's dictionaryType option.
type Type int

const (
	Pretrained Type = iota
	Random
)

func (t Type) String() string {
	if t == Random {
		return "Random"
	}
	return "Pretrained"
}

// ParseType maps the config string option ("Pretrained"/"Random") to a
// Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "Pretrained":
		return Pretrained, nil
	case "Random":
		return Random, nil
	default:
		return 0, fmt.Errorf("dictionary: unknown dictionary type %q", s)
	}
}

// Store holds loaded dictionaries indexed by type and size, and the path
// template used to load/persist pretrained artifacts.
type Store struct {
	pathTemplate string
	dictionaries map[Type]map[int]*mat.Dense
}

// NewStore creates an empty store. pathTemplate must contain exactly one
// "%d" verb for the dictionary size, matching spec.md §6's
// "<data>/pretrainedW/W_<K>.<ext>" naming.
func NewStore(pathTemplate string) *Store {
	return &Store{
		pathTemplate: pathTemplate,
		dictionaries: map[Type]map[int]*mat.Dense{
			Pretrained: {},
			Random:     {},
		},
	}
}

// DefaultPathTemplate builds the canonical template under dataDir.
func DefaultPathTemplate(dataDir string) string {
	return filepath.Join(dataDir, "pretrainedW", "W_%d.bin")
}

// Load populates the store for every size in sizes. For Pretrained, a
// missing artifact on disk is trained via nmf.KLNMF against trainV and
// persisted, running for iterations multiplicative-update steps
// (config.Config.NumHUpdates); for Random, a freshly-seeded
// non-negative matrix is used. ordered requests spectral-centroid atom
// ordering (spec.md §4.3).
func (s *Store) Load(numFrequencies int, sizes []int, trainV *mat.Dense, seed uint64, ordered bool, iterations int) error {
	for _, k := range sizes {
		pretrained, err := s.loadOrTrainPretrained(numFrequencies, k, trainV, seed, iterations)
		if err != nil {
			return err
		}
		random := randomDictionary(numFrequencies, k, seed+uint64(k))
		if ordered {
			pretrained = OrderBySpectralCentroid(pretrained)
			random = OrderBySpectralCentroid(random)
		}
		s.dictionaries[Pretrained][k] = pretrained
		s.dictionaries[Random][k] = random
	}
	return nil
}

func (s *Store) loadOrTrainPretrained(numFrequencies, k int, trainV *mat.Dense, seed uint64, iterations int) (*mat.Dense, error) {
	path := fmt.Sprintf(s.pathTemplate, k)
	if w, err := LoadTensor(path); err == nil {
		return w, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: loading %s: %v", ErrIO, path, err)
	}

	if trainV == nil {
		return nil, fmt.Errorf("%w: no pretrained dictionary at %s and no training spectrogram supplied", ErrIO, path)
	}
	w, _, err := nmf.KLNMF(trainV, k, iterations, 0, 1e-16, seed)
	if err != nil {
		return nil, fmt.Errorf("dictionary: training size %d: %w", k, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIO, filepath.Dir(path), err)
	}
	if err := SaveTensor(path, w); err != nil {
		return nil, fmt.Errorf("%w: saving %s: %v", ErrIO, path, err)
	}
	return w, nil
}

func randomDictionary(numFrequencies, k int, seed uint64) *mat.Dense {
	rng := nmf.NewRNG(seed)
	w := mat.NewDense(numFrequencies, k, nil)
	w.Apply(func(_, _ int, _ float64) float64 { return rng.Float64() }, w)
	return w
}

// Get returns the dictionary for (t, k), or nil if it hasn't been
// loaded.
func (s *Store) Get(t Type, k int) *mat.Dense {
	return s.dictionaries[t][k]
}

// WView is a read-only, row-major view of a dictionary matrix prepared
// for the per-block hot path: plain [][]float64 avoids mat.Dense's
// method-call overhead inside the pipeline's innermost loop, and
// ColumnSums (Σ_k W[f,k] for each bin f) is computed when the view is
// built rather than inside the per-frame loop, since it does not depend
// on the frame (spec.md §4.6 step 4).
type WView struct {
	Dense      [][]float64
	ColumnSums []float64
}

// View materializes a WView for the dictionary at (t, k).
func (s *Store) View(t Type, k int) *WView {
	w := s.Get(t, k)
	if w == nil {
		return nil
	}
	rows, cols := w.Dims()
	dense := make([][]float64, rows)
	colSums := make([]float64, rows)
	for r := 0; r < rows; r++ {
		dense[r] = make([]float64, cols)
		var sum float64
		for c := 0; c < cols; c++ {
			v := w.At(r, c)
			dense[r][c] = v
			sum += v
		}
		colSums[r] = sum
	}
	return &WView{Dense: dense, ColumnSums: colSums}
}

// Sizes returns the dictionary sizes loaded for t, ascending.
func (s *Store) Sizes(t Type) []int {
	m := s.dictionaries[t]
	sizes := make([]int, 0, len(m))
	for k := range m {
		sizes = append(sizes, k)
	}
	sort.Ints(sizes)
	return sizes
}

// OrderBySpectralCentroid permutes W's columns by ascending spectral
// centroid c[k] = sum(f*W[f,k]) / sum(W[f,k]), per spec.md §4.3.
func OrderBySpectralCentroid(w *mat.Dense) *mat.Dense {
	numFreq, numAtoms := w.Dims()
	type centroid struct {
		index int
		value float64
	}
	centroids := make([]centroid, numAtoms)
	for k := 0; k < numAtoms; k++ {
		var num, den float64
		for f := 0; f < numFreq; f++ {
			v := w.At(f, k)
			num += float64(f) * v
			den += v
		}
		c := 0.0
		if den > 0 {
			c = num / den
		}
		centroids[k] = centroid{k, c}
	}
	sort.SliceStable(centroids, func(i, j int) bool { return centroids[i].value < centroids[j].value })

	ordered := mat.NewDense(numFreq, numAtoms, nil)
	for newK, c := range centroids {
		for f := 0; f < numFreq; f++ {
			ordered.Set(f, newK, w.At(f, c.index))
		}
	}
	return ordered
}

// Visualize produces the UI-facing transform of a dictionary: normalize
// by the global max, apply gamma 1/3, then invert to [0, 1]. This is
// purely a display transform; its output must never be fed back into
// the DSP path (spec.md §4.3).
func Visualize(w *mat.Dense) *mat.Dense {
	numFreq, numAtoms := w.Dims()
	maxVal := 0.0
	for f := 0; f < numFreq; f++ {
		for k := 0; k < numAtoms; k++ {
			if v := w.At(f, k); v > maxVal {
				maxVal = v
			}
		}
	}
	out := mat.NewDense(numFreq, numAtoms, nil)
	if maxVal <= 0 {
		return out
	}
	out.Apply(func(f, k int, v float64) float64 {
		normalized := v / maxVal
		if normalized < 0 {
			normalized = 0
		}
		return 1 - math.Pow(normalized, 1.0/3.0)
	}, w)
	return out
}

// tensorMagic identifies the language-neutral tensor-dump format used
// for dictionary persistence (spec.md §6): magic, then rows and cols as
// little-endian uint32, then row-major float64 data in little-endian
// byte order. The header has no dtype or ordering field; every file
// holds row-major float64.
const tensorMagic = "GCCNMFW1"

// SaveTensor writes w to path in the tensor-dump format.
func SaveTensor(path string, w *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, cols := w.Dims()
	header := make([]byte, 0, len(tensorMagic)+8)
	header = append(header, tensorMagic...)
	header = binary.LittleEndian.AppendUint32(header, uint32(rows))
	header = binary.LittleEndian.AppendUint32(header, uint32(cols))
	if _, err := f.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 8*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			binary.LittleEndian.PutUint64(buf[c*8:], math.Float64bits(w.At(r, c)))
		}
		if _, err := f.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// LoadTensor reads a dictionary previously written by SaveTensor.
func LoadTensor(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, len(tensorMagic)+8)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrIO, err)
	}
	if string(header[:len(tensorMagic)]) != tensorMagic {
		return nil, fmt.Errorf("%w: bad magic in %s", ErrIO, path)
	}
	off := len(tensorMagic)
	rows := int(binary.LittleEndian.Uint32(header[off:]))
	cols := int(binary.LittleEndian.Uint32(header[off+4:]))

	data := make([]float64, rows*cols)
	buf := make([]byte, 8*cols)
	for r := 0; r < rows; r++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("%w: reading row %d: %v", ErrIO, r, err)
		}
		for c := 0; c < cols; c++ {
			data[r*cols+c] = math.Float64frombits(binary.LittleEndian.Uint64(buf[c*8:]))
		}
	}
	return mat.NewDense(rows, cols, data), nil
}
