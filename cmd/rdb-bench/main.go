// Command rdb-bench inserts an increasing number of keys into a fresh
// database, timing insert and point-search latency at each checkpoint,
// and renders the result as a PNG line chart.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/go-logr/stdr"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"rdb/row"
	"rdb/table"
)

// checkpoints is the set of tree sizes latency is sampled at.
var checkpoints = []int{100, 500, 1000, 5000, 10000, 50000}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rdb-bench:", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath, err := os.CreateTemp("", "rdb-bench-*.db")
	if err != nil {
		return err
	}
	dbPath.Close()
	defer os.Remove(dbPath.Name())

	log := stdr.New(nil)
	tbl, err := table.Open(dbPath.Name(), 4096, log)
	if err != nil {
		return err
	}
	defer tbl.Close()

	insertLatency := make(plotter.XYs, 0, len(checkpoints))
	searchLatency := make(plotter.XYs, 0, len(checkpoints))

	rng := rand.New(rand.NewSource(1))
	order := rng.Perm(checkpoints[len(checkpoints)-1])

	inserted := 0
	for _, n := range checkpoints {
		batch := n - inserted
		start := time.Now()
		for ; inserted < n; inserted++ {
			key := uint32(order[inserted])
			r := sampleRow(key)
			if err := tbl.InsertCursor(key).Save(r); err != nil {
				return fmt.Errorf("insert at size %d: %w", n, err)
			}
		}
		insertElapsed := time.Since(start)
		insertLatency = append(insertLatency, plotter.XY{
			X: float64(n),
			Y: float64(insertElapsed.Nanoseconds()) / float64(batch),
		})

		searchStart := time.Now()
		const searchSamples = 200
		for i := 0; i < searchSamples; i++ {
			key := uint32(order[rng.Intn(n)])
			if err := lookupExists(tbl, key); err != nil {
				return fmt.Errorf("search at size %d: %w", n, err)
			}
		}
		searchElapsed := time.Since(searchStart)
		searchLatency = append(searchLatency, plotter.XY{
			X: float64(n),
			Y: float64(searchElapsed.Nanoseconds()) / float64(searchSamples),
		})

		fmt.Printf("n=%d insert_ns/op=%.0f search_ns/op=%.0f\n",
			n, float64(insertElapsed.Nanoseconds())/float64(batch),
			float64(searchElapsed.Nanoseconds())/float64(searchSamples))
	}

	return renderChart("rdb-bench.png", insertLatency, searchLatency)
}

func sampleRow(key uint32) row.Row {
	return row.Row{
		ID:       key,
		Username: fmt.Sprintf("user%d", key),
		Email:    fmt.Sprintf("user%d@example.com", key),
	}
}

func lookupExists(tbl *table.Table, key uint32) error {
	_, found, err := tbl.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("lookup: key %d not found", key)
	}
	return nil
}

func renderChart(path string, insertLatency, searchLatency plotter.XYs) error {
	p := plot.New()
	p.Title.Text = "rdb B+Tree latency vs. tree size"
	p.X.Label.Text = "keys inserted"
	p.Y.Label.Text = "ns/op"

	insertLine, err := plotter.NewLine(insertLatency)
	if err != nil {
		return err
	}
	insertLine.Color = plotter.DefaultLineStyle.Color

	searchLine, err := plotter.NewLine(searchLatency)
	if err != nil {
		return err
	}

	p.Add(insertLine, searchLine)
	p.Legend.Add("insert", insertLine)
	p.Legend.Add("search", searchLine)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
