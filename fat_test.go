package fatfs

import (
	"errors"
	"reflect"
	"testing"
)

func TestFatEntry_IsFree(t *testing.T) {
	tests := []struct {
		name string
		e    fatEntry
		want bool
	}{
		{name: "free", e: freeCluster, want: true},
		{name: "end of chain", e: eocCluster, want: false},
		{name: "next cluster", e: 5, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.IsFree(); got != tt.want {
				t.Errorf("fatEntry.IsFree() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFatEntry_IsEOC(t *testing.T) {
	tests := []struct {
		name string
		e    fatEntry
		want bool
	}{
		{name: "free", e: freeCluster, want: false},
		{name: "end of chain", e: eocCluster, want: true},
		{name: "next cluster", e: 5, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.IsEOC(); got != tt.want {
				t.Errorf("fatEntry.IsEOC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFatEntry_IsNextCluster(t *testing.T) {
	tests := []struct {
		name string
		e    fatEntry
		want bool
	}{
		{name: "free", e: freeCluster, want: false},
		{name: "end of chain", e: eocCluster, want: false},
		{name: "root cluster", e: rootDirCluster, want: true},
		{name: "next cluster", e: 5, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.IsNextCluster(); got != tt.want {
				t.Errorf("fatEntry.IsNextCluster() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewBootRecord(t *testing.T) {
	tests := []struct {
		name           string
		totalSectors   uint32
		wantFATSectors uint32
	}{
		{name: "tiny", totalSectors: 16, wantFATSectors: 1},
		{name: "one FAT sector is just enough", totalSectors: 129, wantFATSectors: 1},
		{name: "needs a second FAT sector", totalSectors: 130, wantFATSectors: 2},
		{name: "test size", totalSectors: testSectors, wantFATSectors: 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newBootRecord(tt.totalSectors)
			if got.FATSectors != tt.wantFATSectors {
				t.Errorf("newBootRecord().FATSectors = %v, want %v", got.FATSectors, tt.wantFATSectors)
			}

			// Every data cluster needs a table entry.
			clusters := tt.totalSectors - got.FATStart - got.FATSectors
			if clusters > got.FATSectors*entriesPerSector {
				t.Errorf("newBootRecord() has %d clusters for %d FAT sectors", clusters, got.FATSectors)
			}
		})
	}
}

// A formatted 16 sector volume has its data region at sector 2 and 14 clusters:
// 0 is reserved, 1 is the root record, 2 the root entries and 3 to 13 are free.
const smallSectors = 16

func TestAllocator_format(t *testing.T) {
	v := testingVolume(t, smallSectors)
	a := v.fat

	if a.dataStart != 2 {
		t.Errorf("allocator.dataStart = %v, want 2", a.dataStart)
	}
	if len(a.table) != 14 {
		t.Fatalf("len(allocator.table) = %v, want 14", len(a.table))
	}

	want := []fatEntry{eocCluster, 2, eocCluster}
	if !reflect.DeepEqual(a.table[:3], want) {
		t.Errorf("allocator.table[:3] = %v, want %v", a.table[:3], want)
	}
	if got := a.freeCount(); got != 11 {
		t.Errorf("allocator.freeCount() = %v, want 11", got)
	}
}

func TestAllocator_createChain(t *testing.T) {
	v := testingVolume(t, smallSectors)
	a := v.fat

	first, err := a.createChain(freeCluster)
	if err != nil {
		t.Fatalf("allocator.createChain(0) error = %v", err)
	}
	if first != 3 || !a.table[first].IsEOC() {
		t.Errorf("allocator.createChain(0) = %v (value %v), want 3 (EOC)", first, a.table[first])
	}

	second, err := a.createChain(first)
	if err != nil {
		t.Fatalf("allocator.createChain(%v) error = %v", first, err)
	}
	if second != 4 || a.table[first] != second || !a.table[second].IsEOC() {
		t.Errorf("allocator.createChain(%v) = %v, table = %v", first, second, a.table)
	}

	// Appending with a cluster from the middle still appends at the end.
	third, err := a.createChain(first)
	if err != nil {
		t.Fatalf("allocator.createChain(%v) error = %v", first, err)
	}
	if third != 5 || a.table[second] != third {
		t.Errorf("allocator.createChain(%v) = %v, table = %v", first, third, a.table)
	}
}

func TestAllocator_createChain_noSpace(t *testing.T) {
	v := testingVolume(t, smallSectors)
	a := v.fat

	tail := freeCluster
	for i := 0; i < 11; i++ {
		c, err := a.createChain(tail)
		if err != nil {
			t.Fatalf("allocator.createChain() #%d error = %v", i, err)
		}
		tail = c
	}

	before := append([]fatEntry(nil), a.table...)
	if _, err := a.createChain(tail); !errors.Is(err, ErrNoSpace) {
		t.Errorf("allocator.createChain() on a full table error = %v, want ErrNoSpace", err)
	}
	if !reflect.DeepEqual(a.table, before) {
		t.Errorf("allocator.createChain() changed the table although it failed")
	}
}

func TestAllocator_removeChain(t *testing.T) {
	type args struct {
		start fatEntry
		prev  fatEntry
	}
	tests := []struct {
		name      string
		args      args
		wantErr   error
		wantTable map[fatEntry]fatEntry
	}{
		{
			name: "whole chain",
			args: args{start: 3},
			wantTable: map[fatEntry]fatEntry{
				3: freeCluster, 4: freeCluster, 5: freeCluster,
			},
		},
		{
			name: "tail of the chain",
			args: args{start: 4, prev: 3},
			wantTable: map[fatEntry]fatEntry{
				3: eocCluster, 4: freeCluster, 5: freeCluster,
			},
		},
		{
			name:    "free cluster",
			args:    args{start: 9},
			wantErr: ErrCorrupted,
		},
		{
			name:    "out of range",
			args:    args{start: 100},
			wantErr: ErrCorrupted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testingVolume(t, smallSectors)
			a := v.fat

			// 3 -> 4 -> 5
			tail := freeCluster
			for i := 0; i < 3; i++ {
				c, err := a.createChain(tail)
				if err != nil {
					t.Fatalf("allocator.createChain() error = %v", err)
				}
				tail = c
			}

			err := a.removeChain(tt.args.start, tt.args.prev)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("allocator.removeChain() error = %v, wantErr %v", err, tt.wantErr)
			}

			for cluster, want := range tt.wantTable {
				if got := a.table[cluster]; got != want {
					t.Errorf("allocator.table[%v] = %v, want %v", cluster, got, want)
				}
			}
		})
	}
}

func TestAllocator_removeChain_cycle(t *testing.T) {
	v := testingVolume(t, smallSectors)
	a := v.fat

	a.table[3] = 4
	a.table[4] = 3

	if _, err := a.tail(3); !errors.Is(err, ErrCorrupted) {
		t.Errorf("allocator.tail() on a cycle error = %v, want ErrCorrupted", err)
	}
	if err := a.removeChain(3, freeCluster); !errors.Is(err, ErrCorrupted) {
		t.Errorf("allocator.removeChain() on a cycle error = %v, want ErrCorrupted", err)
	}
}

func TestAllocator_getPut(t *testing.T) {
	tests := []struct {
		name    string
		cluster fatEntry
		value   fatEntry
		wantErr error
	}{
		{name: "in range", cluster: 7, value: eocCluster},
		{name: "link in range", cluster: 7, value: 8},
		{name: "last cluster", cluster: 13, value: eocCluster},
		{name: "cluster out of range", cluster: 14, value: eocCluster, wantErr: ErrCorrupted},
		{name: "link out of range", cluster: 7, value: 14, wantErr: ErrCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testingVolume(t, smallSectors)
			a := v.fat

			err := a.put(tt.cluster, tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("allocator.put() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if _, err := a.get(tt.cluster); int(tt.cluster) >= len(a.table) && !errors.Is(err, ErrCorrupted) {
					t.Errorf("allocator.get() error = %v, want ErrCorrupted", err)
				}
				return
			}

			got, err := a.get(tt.cluster)
			if err != nil || got != tt.value {
				t.Errorf("allocator.get() = %v, %v, want %v", got, err, tt.value)
			}
		})
	}
}

func TestAllocator_clusterToSector(t *testing.T) {
	v := testingVolume(t, smallSectors)
	a := v.fat

	if got := a.clusterToSector(rootDirCluster); got != 3 {
		t.Errorf("allocator.clusterToSector(1) = %v, want 3", got)
	}

	got, err := a.sectorToCluster(3)
	if err != nil || got != rootDirCluster {
		t.Errorf("allocator.sectorToCluster(3) = %v, %v, want 1", got, err)
	}

	for _, sector := range []uint32{0, 1, smallSectors} {
		if _, err := a.sectorToCluster(sector); !errors.Is(err, ErrCorrupted) {
			t.Errorf("allocator.sectorToCluster(%v) error = %v, want ErrCorrupted", sector, err)
		}
	}
}

func TestAllocator_persistLoad(t *testing.T) {
	dev := testingDevice(t, testSectors)
	v := testingMount(t, dev).vol

	tail := freeCluster
	for i := 0; i < 200; i++ {
		c, err := v.fat.createChain(tail)
		if err != nil {
			t.Fatalf("allocator.createChain() error = %v", err)
		}
		tail = c
	}
	if err := v.fat.persist(); err != nil {
		t.Fatalf("allocator.persist() error = %v", err)
	}

	loaded := &allocator{dev: dev, log: testingLogger()}
	ok, err := loaded.readBoot()
	if err != nil || !ok {
		t.Fatalf("allocator.readBoot() = %v, %v, want true", ok, err)
	}
	if err := loaded.load(); err != nil {
		t.Fatalf("allocator.load() error = %v", err)
	}

	if !reflect.DeepEqual(loaded.table, v.fat.table) {
		t.Errorf("allocator.load() table differs from the persisted one")
	}
	if loaded.boot != v.fat.boot {
		t.Errorf("allocator.readBoot() = %+v, want %+v", loaded.boot, v.fat.boot)
	}
}

func TestAllocator_readBoot_blank(t *testing.T) {
	dev := testingDevice(t, testSectors)
	a := &allocator{dev: dev, log: testingLogger()}

	ok, err := a.readBoot()
	if err != nil {
		t.Fatalf("allocator.readBoot() error = %v", err)
	}
	if ok {
		t.Errorf("allocator.readBoot() on a blank device = true, want false")
	}
	if a.boot != newBootRecord(testSectors) {
		t.Errorf("allocator.readBoot() did not synthesize the boot record: %+v", a.boot)
	}
}
