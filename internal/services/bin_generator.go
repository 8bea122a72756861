package services

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"

	"dharani-backend/internal/geo"
	"dharani-backend/internal/models"

	"github.com/google/uuid"
)

// Area classifications used to size a cold-start batch.
const (
	AreaCommercial    = "commercial"
	AreaResidential   = "residential"
	AreaInstitutional = "institutional"
	AreaMixed         = "mixed"
)

const (
	minPlacementKm = 0.2
	maxPlacementKm = 2.0
)

// AreaLocation is the single structured input to bin generation. AreaType is
// optional and inferred from the area name when empty.
type AreaLocation struct {
	Area      string
	City      string
	Pincode   string
	Latitude  float64
	Longitude float64
	AreaType  string
}

type countRange struct{ min, max int }

var areaBinCounts = map[string]countRange{
	AreaCommercial:    {15, 25},
	AreaResidential:   {8, 15},
	AreaInstitutional: {10, 18},
	AreaMixed:         {10, 16},
}

var areaKeywords = []struct {
	areaType string
	words    []string
}{
	{AreaCommercial, []string{"market", "commercial", "business", "shopping"}},
	{AreaResidential, []string{"residential", "colony", "nagar", "layout"}},
	{AreaInstitutional, []string{"hospital", "school", "college", "university"}},
}

var landmarkTemplates = [][]string{
	{"Main Road Junction", "Community Center", "Local Market", "Bus Stop", "Temple Corner", "School Gate", "Apartment Complex", "Park Entrance"},
	{"Shopping Complex", "Bank ATM", "Medical Store", "Restaurant Corner", "Office Building", "Petrol Pump", "Auto Stand", "Market Entrance"},
	{"Government Office", "Police Station", "Post Office", "Railway Station", "Bus Terminal", "Hospital Gate", "Park Corner", "Stadium Entrance"},
}

type binKind struct {
	binType    string
	keywords   []string
	capacity   int
	wasteTypes []string
	frequency  string
}

// Checked in order; the first keyword hit wins.
var binKinds = []binKind{
	{models.BinTypeCommercial, []string{"market", "shopping", "complex", "restaurant"}, 1100, []string{"mixed", "plastic", "organic", "paper"}, "twice_daily"},
	{models.BinTypeMedical, []string{"hospital", "medical"}, 660, []string{"medical", "hazardous", "mixed"}, "daily"},
	{models.BinTypeOffice, []string{"office", "building", "it", "tech"}, 880, []string{"paper", "plastic", "e_waste", "mixed"}, "daily"},
}

var residentialKind = binKind{models.BinTypeResidential, nil, 660, []string{"mixed", "organic", "plastic"}, "alternate_days"}

var peakHourTable = []struct {
	words []string
	hours []string
}{
	{[]string{"market", "shopping"}, []string{"10:00-12:00", "16:00-19:00"}},
	{[]string{"office", "building"}, []string{"12:00-14:00", "18:00-20:00"}},
	{[]string{"school", "college"}, []string{"11:00-13:00", "15:00-17:00"}},
	{[]string{"restaurant", "hotel"}, []string{"13:00-15:00", "20:00-22:00"}},
}

var defaultPeakHours = []string{"08:00-10:00", "18:00-20:00"}

// BinGenerator synthesizes plausible collection points for an area that has
// none yet. Placement is random; it is a bootstrap convenience, not a survey.
type BinGenerator struct {
	mu  sync.Mutex // guards rng
	rng *rand.Rand
	now func() time.Time
}

// NewBinGenerator creates a generator. A nil rng uses a randomly seeded source.
func NewBinGenerator(rng *rand.Rand) *BinGenerator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &BinGenerator{rng: rng, now: time.Now}
}

// ClassifyArea infers an area type from keywords in the area name.
func ClassifyArea(area string) string {
	words := wordSet(area)
	for _, k := range areaKeywords {
		for _, w := range k.words {
			if words[w] {
				return k.areaType
			}
		}
	}
	return AreaMixed
}

// CountRange returns the inclusive bin-count bounds for an area type.
func CountRange(areaType string) (int, int) {
	r, ok := areaBinCounts[areaType]
	if !ok {
		r = areaBinCounts[AreaMixed]
	}
	return r.min, r.max
}

// Generate builds a batch of new, empty bins around loc. It does no I/O;
// idempotence per (area, city) is enforced by BinService.
func (g *BinGenerator) Generate(loc AreaLocation) ([]models.Bin, error) {
	base := geo.Point{Latitude: loc.Latitude, Longitude: loc.Longitude}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(loc.Area) == "" || strings.TrimSpace(loc.City) == "" {
		return nil, fmt.Errorf("%w: area and city are required", ErrValidation)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	areaType := loc.AreaType
	if _, ok := areaBinCounts[areaType]; !ok {
		areaType = ClassifyArea(loc.Area)
	}
	lo, hi := CountRange(areaType)
	count := lo + g.rng.IntN(hi-lo+1)

	now := g.now().Unix()
	bins := make([]models.Bin, 0, count)
	for i := 0; i < count; i++ {
		bearing := g.rng.Float64() * 2 * math.Pi
		distance := minPlacementKm + g.rng.Float64()*(maxPlacementKm-minPlacementKm)
		point := geo.Offset(base, bearing, distance)

		group := landmarkTemplates[g.rng.IntN(len(landmarkTemplates))]
		name := group[g.rng.IntN(len(group))]
		kind := kindForLandmark(name)
		landmark := fmt.Sprintf("%s - %s", name, loc.Area)

		bins = append(bins, models.Bin{
			ID:                  BinID(loc.City, loc.Area, i+1),
			Area:                loc.Area,
			City:                loc.City,
			Pincode:             loc.Pincode,
			Landmark:            landmark,
			Address:             fmt.Sprintf("%s, %s, %s", landmark, loc.Area, loc.City),
			Latitude:            point.Latitude,
			Longitude:           point.Longitude,
			BinType:             kind.binType,
			CapacityLiters:      kind.capacity,
			FillLevel:           0,
			Status:              models.BinStatusActive,
			WasteTypes:          append([]string(nil), kind.wasteTypes...),
			CollectionFrequency: kind.frequency,
			PeakHours:           peakHoursFor(name),
			CreatedAt:           now,
			UpdatedAt:           now,
		})
	}
	return bins, nil
}

// BinID formats BIN_<CITY>_<AREA3>_<HASH>_<NNN>. HASH is derived from the
// normalized (area, city) key, so areas sharing a three-letter prefix in one
// city still get disjoint ids.
func BinID(city, area string, n int) string {
	compactArea := []rune(strings.ToUpper(strings.ReplaceAll(area, " ", "")))
	if len(compactArea) > 3 {
		compactArea = compactArea[:3]
	}
	compactCity := strings.ToUpper(strings.ReplaceAll(city, " ", ""))
	return fmt.Sprintf("BIN_%s_%s_%s_%03d", compactCity, string(compactArea), areaHash(area, city), n)
}

func areaHash(area, city string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("dharani:bins:"+areaKey(area, city)))
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
}

// kindForLandmark matches whole words, so "it" does not hit "Community".
func kindForLandmark(landmark string) binKind {
	words := wordSet(landmark)
	for _, kind := range binKinds {
		for _, k := range kind.keywords {
			if words[k] {
				return kind
			}
		}
	}
	return residentialKind
}

func peakHoursFor(landmark string) []string {
	words := wordSet(landmark)
	for _, row := range peakHourTable {
		for _, w := range row.words {
			if words[w] {
				return append([]string(nil), row.hours...)
			}
		}
	}
	return append([]string(nil), defaultPeakHours...)
}

func wordSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
