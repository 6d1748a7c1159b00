package assess

import (
	"reflect"
	"strconv"
	"testing"
)

func fixtureVersion(nQuestions, nOptions int) Version {
	v := Version{TestID: "t-1", Version: 1}
	for i := 0; i < nQuestions; i++ {
		q := Question{
			ID:     "q" + strconv.Itoa(i+1),
			Prompt: "prompt " + strconv.Itoa(i+1),
			Points: float64(i + 1),
		}
		for j := 0; j < nOptions; j++ {
			q.Options = append(q.Options, Option{ID: string(rune('a' + j)), Text: "option"})
		}
		q.CorrectOptionID = "a"
		v.Questions = append(v.Questions, q)
		v.PointsPossible += q.Points
	}
	return v
}

func TestFormRNGStreamIsReproducible(t *testing.T) {
	a := newFormRNG("seed", "t-1", "u1__1", 1)
	b := newFormRNG("seed", "t-1", "u1__1", 1)
	for i := 0; i < 1000; i++ {
		x, y := a.Float64(), b.Float64()
		if x != y {
			t.Fatalf("streams diverged at draw %d: %v vs %v", i, x, y)
		}
		if x < 0 || x >= 1 {
			t.Fatalf("draw %d out of [0,1): %v", i, x)
		}
	}
}

func TestBuildFormDeterministic(t *testing.T) {
	v := fixtureVersion(8, 4)
	s1, f1 := BuildForm(v, true, "seed-x", "u1__1")
	s2, f2 := BuildForm(v, true, "seed-x", "u1__1")
	if !reflect.DeepEqual(s1, s2) {
		t.Fatalf("same seed tuple produced different served forms")
	}
	if !reflect.DeepEqual(f1, f2) {
		t.Fatalf("same seed tuple produced different snapshots")
	}
}

func TestBuildFormShuffleDisabledKeepsDocumentOrder(t *testing.T) {
	v := fixtureVersion(5, 3)
	served, form := BuildForm(v, false, "seed-x", "u1__1")
	for i, q := range v.Questions {
		if served[i].ID != q.ID {
			t.Fatalf("question %d reordered without shuffle: got %s want %s", i, served[i].ID, q.ID)
		}
		for j, o := range q.Options {
			if served[i].Options[j].ID != o.ID {
				t.Fatalf("question %s option %d reordered without shuffle", q.ID, j)
			}
		}
		if form[i].QuestionID != q.ID {
			t.Fatalf("snapshot order diverged from served order at %d", i)
		}
	}
}

func TestBuildFormShuffleActuallyPermutes(t *testing.T) {
	v := fixtureVersion(8, 4)
	moved := false
	for i := 0; i < 20 && !moved; i++ {
		served, _ := BuildForm(v, true, "seed-"+strconv.Itoa(i), "u1__1")
		for j := range served {
			if served[j].ID != v.Questions[j].ID {
				moved = true
				break
			}
		}
	}
	if !moved {
		t.Fatalf("20 distinct seeds never moved a question; shuffle is broken")
	}
}

func TestBuildFormSnapshotMatchesServedOptions(t *testing.T) {
	v := fixtureVersion(6, 4)
	served, form := BuildForm(v, true, "seed-y", "u2__3")
	if len(served) != len(form) {
		t.Fatalf("served/form length mismatch: %d vs %d", len(served), len(form))
	}
	for i := range served {
		if served[i].ID != form[i].QuestionID {
			t.Fatalf("entry %d: served %s vs snapshot %s", i, served[i].ID, form[i].QuestionID)
		}
		if len(served[i].Options) != len(form[i].OptionIDs) {
			t.Fatalf("entry %d: option count mismatch", i)
		}
		for j, o := range served[i].Options {
			if form[i].OptionIDs[j] != o.ID {
				t.Fatalf("entry %d option %d: whitelist %s vs served %s", i, j, form[i].OptionIDs[j], o.ID)
			}
		}
	}
}

func TestBuildFormDoesNotMutateVersion(t *testing.T) {
	v := fixtureVersion(6, 4)
	want := fixtureVersion(6, 4)
	BuildForm(v, true, "seed-z", "u3__1")
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("BuildForm mutated the version snapshot")
	}
}
