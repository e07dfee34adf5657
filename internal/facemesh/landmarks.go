package facemesh

import "math"

// Landmark names the smile scorer depends on.
const (
	MouthLeft  = "mouthLeft"
	MouthRight = "mouthRight"
	UpperLip   = "upperLip"
	LowerLip   = "lowerLip"
)

// Mouth keypoint indices in the MediaPipe face mesh topology.
const (
	MeshMouthLeft  = 61
	MeshMouthRight = 291
	MeshUpperLip   = 13
	MeshLowerLip   = 14
)

var meshNames = map[int]string{
	MeshMouthLeft:  MouthLeft,
	MeshMouthRight: MouthRight,
	MeshUpperLip:   UpperLip,
	MeshLowerLip:   LowerLip,
}

// RequiredNames lists the landmarks a set must carry to be scored.
var RequiredNames = []string{MouthLeft, MouthRight, UpperLip, LowerLip}

type Point struct {
	Name string  `json:"name,omitempty"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Finite reports whether both coordinates are real numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// LandmarkSet is an ordered sequence of 2-D keypoints for one detected face.
// It is built per frame and never retained past the scoring call.
type LandmarkSet struct {
	Points []Point `json:"points"`
}

// Lookup returns the first point carrying name.
func (s LandmarkSet) Lookup(name string) (Point, bool) {
	for _, p := range s.Points {
		if p.Name == name {
			return p, true
		}
	}
	return Point{}, false
}

// Missing returns the required names absent from the set.
func (s LandmarkSet) Missing() []string {
	var missing []string
	for _, name := range RequiredNames {
		if _, ok := s.Lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Mouth returns a set holding only the named mouth points, in RequiredNames order.
func (s LandmarkSet) Mouth() LandmarkSet {
	mouth := LandmarkSet{Points: make([]Point, 0, len(RequiredNames))}
	for _, name := range RequiredNames {
		if p, ok := s.Lookup(name); ok {
			mouth.Points = append(mouth.Points, p)
		}
	}
	return mouth
}

// FromMesh converts raw face mesh keypoints ([x, y] pairs indexed by the
// MediaPipe topology) into a LandmarkSet, naming the mouth points.
// A mesh too short to contain a mouth index yields a set missing that name.
func FromMesh(mesh [][2]float64) LandmarkSet {
	set := LandmarkSet{Points: make([]Point, len(mesh))}
	for i, xy := range mesh {
		set.Points[i] = Point{Name: meshNames[i], X: xy[0], Y: xy[1]}
	}
	return set
}

// Distance is the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
