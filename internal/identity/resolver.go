package identity

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/home-sentinel/edge/internal/logger"
)

// Match is an accepted identity match
type Match struct {
	Name       string
	Similarity float64
	Margin     float64 // Gap between best and second-best identity
}

// cacheEntry memoizes a high-confidence match for visually identical crops
// across nearby frames
type cacheEntry struct {
	frameID    uint64
	name       string
	similarity float64
	margin     float64
}

// ResolverConfig contains face matching configuration
type ResolverConfig struct {
	BaseThreshold       float64 // Base cosine similarity threshold
	MinThreshold        float64 // Lower clamp of the adaptive threshold
	MaxThreshold        float64 // Upper clamp of the adaptive threshold
	MinSimDiff          float64 // Required best-vs-second margin
	HighConfidenceBonus float64 // Margin requirement waived above base+bonus
	CacheValidityFrames uint64  // Memo entries expire after this many frames
	CacheSweepInterval  uint64  // Opportunistic sweep period, in frames
}

// Resolver matches probe embeddings against the gallery with confidence-aware,
// margin-aware, size-adaptive acceptance rules. The gallery is swapped
// wholesale on refresh and never mutated while matches are in flight.
type Resolver struct {
	logger  *logger.Logger
	cfg     ResolverConfig
	gallery atomic.Pointer[Gallery]

	mu    sync.Mutex
	cache map[uint64]cacheEntry
}

// NewResolver creates a new identity resolver
func NewResolver(cfg ResolverConfig, log *logger.Logger) *Resolver {
	if cfg.BaseThreshold == 0 {
		cfg.BaseThreshold = 0.55
	}
	if cfg.MinThreshold == 0 {
		cfg.MinThreshold = 0.5
	}
	if cfg.MaxThreshold == 0 {
		cfg.MaxThreshold = 0.6
	}
	if cfg.MinSimDiff == 0 {
		cfg.MinSimDiff = 0.08
	}
	if cfg.HighConfidenceBonus == 0 {
		cfg.HighConfidenceBonus = 0.1
	}
	if cfg.CacheValidityFrames == 0 {
		cfg.CacheValidityFrames = 30
	}
	if cfg.CacheSweepInterval == 0 {
		cfg.CacheSweepInterval = 100
	}

	r := &Resolver{
		logger: log,
		cfg:    cfg,
		cache:  make(map[uint64]cacheEntry),
	}
	r.gallery.Store(&Gallery{})
	return r
}

// SetGallery installs a new gallery snapshot (copy-then-swap)
func (r *Resolver) SetGallery(g *Gallery) {
	if g == nil {
		g = &Gallery{}
	}
	r.gallery.Store(g)
}

// GallerySize returns the number of identities currently loaded
func (r *Resolver) GallerySize() int {
	return r.gallery.Load().Size()
}

// Match resolves a face embedding to the best matching gallery identity.
// boxSizePx is the larger dimension of the detected person box, used to adapt
// the acceptance threshold. Returns false when the gallery is empty or the
// acceptance criteria fail.
func (r *Resolver) Match(frameID uint64, embedding []float32, boxSizePx int) (Match, bool) {
	gallery := r.gallery.Load()
	if gallery.Size() == 0 || len(embedding) == 0 {
		return Match{}, false
	}

	key := embeddingKey(embedding)

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok {
		if frameID-entry.frameID < r.cfg.CacheValidityFrames && entry.name != "" {
			r.mu.Unlock()
			return Match{Name: entry.name, Similarity: entry.similarity, Margin: entry.margin}, true
		}
	}
	r.mu.Unlock()

	probe := Normalize(embedding)

	bestSim, secondSim := -1.0, -1.0
	bestName := ""
	for _, id := range gallery.Identities {
		sim := identityScore(probe, id)
		if sim > bestSim {
			secondSim = bestSim
			bestSim = sim
			bestName = id.Name
		} else if sim > secondSim {
			secondSim = sim
		}
	}
	if secondSim < 0 {
		secondSim = 0
	}

	margin := bestSim - secondSim
	threshold := r.adaptiveThreshold(boxSizePx)
	high := bestSim >= threshold+r.cfg.HighConfidenceBonus
	goodMargin := margin >= r.cfg.MinSimDiff

	r.maybeSweep(frameID)

	if bestName == "" || bestSim < threshold || (!goodMargin && !high) {
		return Match{}, false
	}

	if high {
		r.mu.Lock()
		r.cache[key] = cacheEntry{
			frameID:    frameID,
			name:       bestName,
			similarity: bestSim,
			margin:     margin,
		}
		r.mu.Unlock()
	}

	return Match{Name: bestName, Similarity: bestSim, Margin: margin}, true
}

// identityScore is the maximum confidence-scaled similarity of the probe
// against all enrolled embeddings of one identity. A single strong enrolled
// sample counts even when the others are poor.
func identityScore(probe []float32, id Identity) float64 {
	maxSim := -1.0
	for i, emb := range id.Embeddings {
		sim := dot(probe, emb)
		if i < len(id.Confidences) {
			conf := id.Confidences[i]
			if conf < 0.5 {
				conf = 0.5
			}
			sim *= 0.7 + 0.3*conf
		}
		if sim > maxSim {
			maxSim = sim
		}
	}
	return maxSim
}

// adaptiveThreshold loosens the bar for small, far faces and tightens it for
// large, close ones, clamped to the configured band.
func (r *Resolver) adaptiveThreshold(boxSizePx int) float64 {
	threshold := r.cfg.BaseThreshold
	switch {
	case boxSizePx > 0 && boxSizePx < 100:
		threshold -= 0.03
		if threshold < r.cfg.MinThreshold {
			threshold = r.cfg.MinThreshold
		}
	case boxSizePx > 200:
		threshold += 0.02
		if threshold > r.cfg.MaxThreshold {
			threshold = r.cfg.MaxThreshold
		}
	}
	return threshold
}

// maybeSweep drops expired memo entries every CacheSweepInterval frames
func (r *Resolver) maybeSweep(frameID uint64) {
	if frameID == 0 || frameID%r.cfg.CacheSweepInterval != 0 {
		return
	}
	r.mu.Lock()
	for key, entry := range r.cache {
		if frameID-entry.frameID >= r.cfg.CacheValidityFrames {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// CacheSize returns the number of live memo entries
func (r *Resolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// embeddingKey is a coarse hash of the leading embedding components. It can
// collide for visually different faces; the cache is a performance heuristic
// only and a miss always falls back to full comparison.
func embeddingKey(embedding []float32) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	n := len(embedding)
	if n > 10 {
		n = 10
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[:], uint32(int32(embedding[i])))
		h.Write(buf[:])
	}
	return h.Sum64()
}
