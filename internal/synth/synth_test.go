package synth

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearalert/soundbank/internal/dsp"
)

func digest(w dsp.Waveform) [32]byte {
	buf := make([]byte, 8*w.Len())
	for i, s := range w.Samples {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(s))
	}
	return sha256.Sum256(buf)
}

func TestGenerate_AllShapes(t *testing.T) {
	p := Params{SampleRate: 8000, Duration: 5 * time.Second}
	for _, shape := range Shapes() {
		t.Run(string(shape), func(t *testing.T) {
			w, err := Generate(shape, rand.New(rand.NewPCG(1, 1)), p)
			require.NoError(t, err)
			assert.Equal(t, 40000, w.Len())
			assert.Equal(t, 8000, w.SampleRate)
			assert.Equal(t, 1.0, w.Peak())
			for _, s := range w.Samples {
				require.Equal(t, s, dsp.FromPCM16(dsp.ToPCM16(s)), "sample not on 16-bit grid")
			}
		})
	}
}

func TestGenerate_SirenDistinct(t *testing.T) {
	seen := map[[32]byte]bool{}
	for i := range 50 {
		w, err := Generate(ShapeWail, rand.New(rand.NewPCG(42, uint64(i))), DefaultParams())
		require.NoError(t, err)
		require.Equal(t, 220500, w.Len())
		require.Equal(t, 44100, w.SampleRate)
		require.Equal(t, 5*time.Second, w.Duration())
		require.Equal(t, 1.0, w.Peak())
		seen[digest(w)] = true
	}
	assert.Len(t, seen, 50)
}

func TestGenerate_ShortClipsAudibleAndDistinct(t *testing.T) {
	p := Params{SampleRate: 8000, Duration: 500 * time.Millisecond}
	for _, shape := range Shapes() {
		t.Run(string(shape), func(t *testing.T) {
			seen := map[[32]byte]bool{}
			for i := range 10 {
				w, err := Generate(shape, rand.New(rand.NewPCG(7, uint64(i))), p)
				require.NoError(t, err)
				require.Equal(t, 1.0, w.Peak(), "draw %d is silent", i)
				seen[digest(w)] = true
			}
			assert.Len(t, seen, 10)
		})
	}
}

func TestKnock_ImpactsFollowClipLength(t *testing.T) {
	p := Params{SampleRate: 8000, Duration: time.Second}
	w := knock(rand.New(rand.NewPCG(1, 1)), p)
	// The first impact starts between 10% and 30% of the clip.
	assert.Zero(t, dsp.New(w.Samples[:790], 8000).Peak())
	assert.NotZero(t, dsp.New(w.Samples[790:2450], 8000).Peak())
}

func TestGenerate_Reproducible(t *testing.T) {
	p := Params{SampleRate: 8000, Duration: time.Second}
	a, err := Generate(ShapeSpeech, rand.New(rand.NewPCG(3, 4)), p)
	require.NoError(t, err)
	b, err := Generate(ShapeSpeech, rand.New(rand.NewPCG(3, 4)), p)
	require.NoError(t, err)
	assert.Equal(t, a.Samples, b.Samples)
}

func TestGenerate_UnknownShape(t *testing.T) {
	_, err := Generate("theremin", rand.New(rand.NewPCG(1, 1)), DefaultParams())
	assert.ErrorIs(t, err, ErrUnknownShape)

	_, err = Generate(ShapeNone, rand.New(rand.NewPCG(1, 1)), DefaultParams())
	assert.ErrorIs(t, err, ErrUnknownShape)
}

func TestGenerate_ZeroParamsUseDefaults(t *testing.T) {
	w, err := Generate(ShapeGeneric, rand.New(rand.NewPCG(1, 1)), Params{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleRate, w.SampleRate)
	assert.Equal(t, DefaultDuration, w.Duration())
}

func TestPulseBeep_SilentHalfSeconds(t *testing.T) {
	p := Params{SampleRate: 8000, Duration: 2 * time.Second}
	w := pulseBeep(rand.New(rand.NewPCG(1, 1)), p)
	for i := 4100; i < 7900; i++ {
		require.Zero(t, w.Samples[i], "sample %d", i)
	}
	assert.NotZero(t, dsp.New(w.Samples[:4000], 8000).Peak())
}

func TestRegistry_Resolve(t *testing.T) {
	r, err := NewRegistry(map[string]Shape{
		"siren":  ShapeWail,
		"speech": ShapeSpeech,
		"rain":   ShapeNone,
	})
	require.NoError(t, err)

	s, ok := r.Resolve("siren")
	assert.True(t, ok)
	assert.Equal(t, ShapeWail, s)

	s, ok = r.Resolve("dog_bark")
	assert.True(t, ok)
	assert.Equal(t, ShapeGeneric, s)

	_, ok = r.Resolve("rain")
	assert.False(t, ok)
}

func TestRegistry_FallbackDisabled(t *testing.T) {
	r, err := NewRegistry(map[string]Shape{"siren": ShapeWail}, WithFallback(ShapeNone))
	require.NoError(t, err)

	_, ok := r.Resolve("dog_bark")
	assert.False(t, ok)
	_, ok = r.Resolve("siren")
	assert.True(t, ok)
}

func TestNewRegistry_RejectsUnknownShape(t *testing.T) {
	_, err := NewRegistry(map[string]Shape{"siren": "theremin"})
	assert.ErrorIs(t, err, ErrUnknownShape)
}
