package phenotype

// FixtureIDFloor is the smallest id base used for synthetic nodes; fixture ids
// are always above it and above every real id.
const FixtureIDFloor int64 = 10000

type fixtureLeaf struct {
	name, displayName string
}

var fixtureLeaves = []fixtureLeaf{
	{name: "test_ewings_sarcoma", displayName: "Ewing's Sarcoma"},
	{name: "test_melanoma", displayName: "Melanoma"},
	{name: "test_renal_cell_carcinoma", displayName: "Renal Cell Carcinoma"},
}

// Fixtures returns the synthetic test nodes for a sequence whose largest id
// is maxID: one root and three binary leaves under it, with ids
// max(maxID, FixtureIDFloor)+1 onwards. The root comes first so the result
// can be appended to any valid sequence without breaking the ordering.
func Fixtures(maxID int64) []Record {
	base := max(maxID, FixtureIDFloor)
	rootID := base + 1

	out := make([]Record, 0, 1+len(fixtureLeaves))
	out = append(out, Record{ID: rootID, DisplayName: ptr("Test")})
	for i, leaf := range fixtureLeaves {
		out = append(out, Record{
			ID:          rootID + 1 + int64(i),
			ParentID:    ptr(rootID),
			Name:        ptr(leaf.name),
			DisplayName: ptr(leaf.displayName),
			Description: ptr("Test Description"),
			Type:        ptr(TypeBinary),
		})
	}
	return out
}

// InjectFixtures appends Fixtures(MaxID(seq)) to seq.
func InjectFixtures(seq []Record) []Record {
	return append(seq, Fixtures(MaxID(seq))...)
}
