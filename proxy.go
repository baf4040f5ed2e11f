package cosim

import "fmt"

// ProxyNodeMap is the fixed bijection between macroscale region indices and
// microscale population-group indices. It is built once during configuration
// and only read afterwards.
type ProxyNodeMap struct {
	regions       []int
	regionToGroup map[int]int
	groupToRegion map[int]int
}

// NewProxyNodeMap pairs regions[i] with groups[i]. A nil groups slice maps
// every region onto group i.
func NewProxyNodeMap(regions, groups []int) (*ProxyNodeMap, error) {
	if len(regions) == 0 {
		return nil, ErrProxyMapEmpty
	}
	if groups == nil {
		groups = make([]int, len(regions))
		for i := range groups {
			groups[i] = i
		}
	}
	if len(groups) != len(regions) {
		return nil, fmt.Errorf("%w: %d regions, %d groups", ErrProxyMapNotBijective, len(regions), len(groups))
	}

	m := &ProxyNodeMap{
		regions:       append([]int(nil), regions...),
		regionToGroup: make(map[int]int, len(regions)),
		groupToRegion: make(map[int]int, len(regions)),
	}
	for i, r := range regions {
		g := groups[i]
		if r < 0 || g < 0 {
			return nil, fmt.Errorf("%w: negative index in pair (%d, %d)", ErrProxyMapNotBijective, r, g)
		}
		if _, dup := m.regionToGroup[r]; dup {
			return nil, fmt.Errorf("%w: region %d listed twice", ErrProxyMapNotBijective, r)
		}
		if _, dup := m.groupToRegion[g]; dup {
			return nil, fmt.Errorf("%w: group %d listed twice", ErrProxyMapNotBijective, g)
		}
		m.regionToGroup[r] = g
		m.groupToRegion[g] = r
	}
	return m, nil
}

// Len returns the number of proxy nodes.
func (m *ProxyNodeMap) Len() int { return len(m.regions) }

// Regions returns the proxy regions in configuration order.
func (m *ProxyNodeMap) Regions() []int { return append([]int(nil), m.regions...) }

// Group returns the population group standing in for region.
func (m *ProxyNodeMap) Group(region int) (int, bool) {
	g, ok := m.regionToGroup[region]
	return g, ok
}

// Region returns the region a population group stands in for.
func (m *ProxyNodeMap) Region(group int) (int, bool) {
	r, ok := m.groupToRegion[group]
	return r, ok
}

// IsProxy reports whether region is simulated by the microscale side.
func (m *ProxyNodeMap) IsProxy(region int) bool {
	_, ok := m.regionToGroup[region]
	return ok
}
