// Package partition converges the physical partition layout of the two
// per-phenotype fact tables to the expected state: one list partition per
// phenotype id, each split into the all/female/male sub-partitions.
package partition

import (
	"fmt"
	"slices"
	"strconv"
)

// Table identifies one of the partitioned fact tables.
type Table string

const (
	Variant   Table = "variant"
	Aggregate Table = "aggregate"
)

// Tables lists the fact tables in reconciliation order.
var Tables = []Table{Variant, Aggregate}

// Sexes are the sub-partition suffixes, in creation order.
var Sexes = []string{"all", "female", "male"}

// Descriptor is the expected layout of one fact table for one phenotype.
type Descriptor struct {
	Table       Table
	PhenotypeID int64
}

// Name is the partition name: the phenotype id itself.
func (d Descriptor) Name() string { return PartitionName(d.PhenotypeID) }

// Subpartitions returns {id}_all, {id}_female, {id}_male.
func (d Descriptor) Subpartitions() []string {
	out := make([]string, len(Sexes))
	for i, s := range Sexes {
		out[i] = d.Name() + "_" + s
	}
	return out
}

func (d Descriptor) String() string { return fmt.Sprintf("%s/%s", d.Table, d.Name()) }

// PartitionName is the partition name used for a phenotype id.
func PartitionName(id int64) string { return strconv.FormatInt(id, 10) }

// Row is one row of partition metadata as reported by the store. Stores that
// list sub-partitions report one row per sub-partition; Subpartition is empty
// for a partition without any.
type Row struct {
	Table        Table
	Partition    string
	Subpartition string
}

// Matches reports whether rows describe exactly the expected layout of every
// table in Tables for id: one partition per table carrying exactly the three
// expected sub-partitions.
func Matches(id int64, rows []Row) bool {
	if len(rows) != len(Tables)*len(Sexes) {
		return false
	}
	for _, t := range Tables {
		want := Descriptor{Table: t, PhenotypeID: id}.Subpartitions()
		var got []string
		for _, r := range rows {
			if r.Table == t && r.Partition == PartitionName(id) {
				got = append(got, r.Subpartition)
			}
		}
		slices.Sort(got)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			return false
		}
	}
	return true
}

// Exists reports whether rows contain any partition metadata for t.
func Exists(t Table, rows []Row) bool {
	for _, r := range rows {
		if r.Table == t {
			return true
		}
	}
	return false
}
