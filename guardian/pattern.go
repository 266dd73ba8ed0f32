package guardian

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
)

// PatternAnalysis is the anomaly-detection verdict for one request
// against everything learned so far for the requesting process.
type PatternAnalysis struct {
	IsKnown         bool
	AnomalyScore    float64
	SimilarPatterns []string
	Explanation     string
}

type capabilityProfile struct {
	mu           sync.Mutex
	capabilities map[string]uint64
	total        uint64
	firstSeen    time.Time
	lastSeen     time.Time
}

type timePattern struct {
	mu               sync.Mutex
	hourlyDistrib    [24]uint64
	weeklyDistrib    [7]uint64
}

type resourceProfile struct {
	mu        sync.Mutex
	resources map[string]uint64
}

// PatternLearner tracks per-process capability, time-of-day, and
// resource-access histories and scores new requests against them,
// keyed by process path in plain maps guarded by a sync.RWMutex.
type PatternLearner struct {
	enabled          bool
	anomalyThreshold float64
	learningRate     float64

	appCapabilities map[string]*capabilityProfile
	timePatterns    map[string]*timePattern
	resourcePatterns map[string]*resourceProfile
	mu              sync.RWMutex
}

func NewPatternLearner(cfg PatternConfig) (*PatternLearner, error) {
	return &PatternLearner{
		enabled:          cfg.Enabled,
		anomalyThreshold: cfg.AnomalyThreshold,
		learningRate:     cfg.LearningRate,
		appCapabilities:  make(map[string]*capabilityProfile),
		timePatterns:     make(map[string]*timePattern),
		resourcePatterns: make(map[string]*resourceProfile),
	}, nil
}

func (pl *PatternLearner) Threshold() float64 { return pl.anomalyThreshold }

func (pl *PatternLearner) Analyze(req CapabilityRequest) PatternAnalysis {
	if !pl.enabled {
		return PatternAnalysis{Explanation: "Pattern learning disabled"}
	}

	var anomaly float64
	var explanations []string

	if a := pl.checkAppPattern(req); a > 0.5 {
		explanations = append(explanations, fmt.Sprintf("Unusual capability '%s' for this app (score: %.2f)", req.Capability, a))
		anomaly = max64(anomaly, a)
	} else {
		anomaly = max64(anomaly, a)
	}

	if t := pl.checkTimePattern(req); t > 0.5 {
		explanations = append(explanations, fmt.Sprintf("Unusual time for this request (score: %.2f)", t))
		anomaly = max64(anomaly, t)
	} else {
		anomaly = max64(anomaly, t)
	}

	if req.Resource != "" {
		if r := pl.checkResourcePattern(req, req.Resource); r > 0.5 {
			explanations = append(explanations, fmt.Sprintf("Unusual resource access '%s' (score: %.2f)", req.Resource, r))
			anomaly = max64(anomaly, r)
		} else {
			anomaly = max64(anomaly, r)
		}
	}

	explanation := "Normal pattern"
	if len(explanations) > 0 {
		explanation = strings.Join(explanations, "; ")
	}

	return PatternAnalysis{
		IsKnown:         anomaly < pl.anomalyThreshold,
		AnomalyScore:    anomaly,
		SimilarPatterns: pl.findSimilarPatterns(req),
		Explanation:     explanation,
	}
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func (pl *PatternLearner) checkAppPattern(req CapabilityRequest) float64 {
	pl.mu.RLock()
	profile, ok := pl.appCapabilities[req.ProcessPath]
	pl.mu.RUnlock()
	if !ok {
		return 0.5
	}

	profile.mu.Lock()
	defer profile.mu.Unlock()
	if profile.total == 0 {
		return 0.5
	}
	capCount := profile.capabilities[req.Capability]
	if capCount == 0 {
		return 0.8
	}
	freq := float64(capCount) / float64(profile.total)
	switch {
	case freq < 0.01:
		return 0.6
	case freq < 0.1:
		return 0.3
	default:
		return 0.1
	}
}

func (pl *PatternLearner) checkTimePattern(req CapabilityRequest) float64 {
	pl.mu.RLock()
	pattern, ok := pl.timePatterns[req.ProcessPath]
	pl.mu.RUnlock()
	if !ok {
		return 0.3
	}

	now := time.Now()
	hour := now.Hour()
	day := int(now.Weekday())

	pattern.mu.Lock()
	defer pattern.mu.Unlock()

	var totalHourly, totalWeekly uint64
	for _, c := range pattern.hourlyDistrib {
		totalHourly += c
	}
	for _, c := range pattern.weeklyDistrib {
		totalWeekly += c
	}
	if totalHourly == 0 {
		return 0.3
	}

	hourFreq := float64(pattern.hourlyDistrib[hour]) / float64(totalHourly)
	weeklyDenom := totalWeekly
	if weeklyDenom == 0 {
		weeklyDenom = 1
	}
	dayFreq := float64(pattern.weeklyDistrib[day]) / float64(weeklyDenom)

	hourAnomaly := 0.1
	if hourFreq < 0.01 {
		hourAnomaly = 0.7
	} else {
		recip := 1.0 / hourFreq
		if recip > 1.0 {
			recip = 1.0
		}
		hourAnomaly = recip * 0.3
	}
	dayAnomaly := 0.1
	if dayFreq < 0.01 {
		dayAnomaly = 0.5
	}

	return (hourAnomaly + dayAnomaly) / 2.0
}

func hasCommonPrefix(a, b string) bool {
	aParts := strings.Split(a, "/")
	bParts := strings.Split(b, "/")
	common := 0
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		if aParts[i] != bParts[i] {
			break
		}
		common++
	}
	return common >= 2
}

func (pl *PatternLearner) checkResourcePattern(req CapabilityRequest, resource string) float64 {
	pl.mu.RLock()
	profile, ok := pl.resourcePatterns[req.ProcessPath]
	pl.mu.RUnlock()
	if !ok {
		return 0.5
	}

	profile.mu.Lock()
	defer profile.mu.Unlock()

	var total uint64
	for _, c := range profile.resources {
		total += c
	}
	if total == 0 {
		return 0.5
	}
	if profile.resources[resource] > 0 {
		return 0.1
	}

	similarSet := mapset.NewSet()
	for r := range profile.resources {
		if hasCommonPrefix(r, resource) {
			similarSet.Add(r)
		}
	}
	if similarSet.Cardinality() > 0 {
		return 0.4
	}
	return 0.7
}

func (pl *PatternLearner) findSimilarPatterns(req CapabilityRequest) []string {
	similarSet := mapset.NewSet()

	pl.mu.RLock()
	defer pl.mu.RUnlock()
	for path, profile := range pl.appCapabilities {
		if path == req.ProcessPath {
			continue
		}
		profile.mu.Lock()
		_, used := profile.capabilities[req.Capability]
		profile.mu.Unlock()
		if used {
			similarSet.Add(path)
		}
	}

	similar := make([]string, 0, similarSet.Cardinality())
	for _, v := range similarSet.ToSlice() {
		similar = append(similar, v.(string))
		if len(similar) == 5 {
			break
		}
	}
	return similar
}

// Learn folds an approved request into the app/time/resource profiles.
func (pl *PatternLearner) Learn(req CapabilityRequest) {
	if !pl.enabled {
		return
	}
	now := time.Now()

	pl.mu.Lock()
	profile, ok := pl.appCapabilities[req.ProcessPath]
	if !ok {
		profile = &capabilityProfile{capabilities: make(map[string]uint64)}
		pl.appCapabilities[req.ProcessPath] = profile
	}
	tp, ok := pl.timePatterns[req.ProcessPath]
	if !ok {
		tp = &timePattern{}
		pl.timePatterns[req.ProcessPath] = tp
	}
	rp, ok := pl.resourcePatterns[req.ProcessPath]
	if !ok {
		rp = &resourceProfile{resources: make(map[string]uint64)}
		pl.resourcePatterns[req.ProcessPath] = rp
	}
	pl.mu.Unlock()

	profile.mu.Lock()
	profile.capabilities[req.Capability]++
	profile.total++
	if profile.firstSeen.IsZero() {
		profile.firstSeen = now
	}
	profile.lastSeen = now
	profile.mu.Unlock()

	tp.mu.Lock()
	tp.hourlyDistrib[now.Hour()]++
	tp.weeklyDistrib[int(now.Weekday())]++
	tp.mu.Unlock()

	if req.Resource != "" {
		rp.mu.Lock()
		rp.resources[req.Resource]++
		rp.mu.Unlock()
	}
}
