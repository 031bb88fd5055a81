// session-report renders an HTML report for one recorded drive session:
// speed and curvature traces, actuator output, and summary statistics.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/drive.control/internal/sessionlog"
	"github.com/banshee-data/drive.control/internal/units"
)

var (
	dbPath     = flag.String("db", "sessions.db", "Path to the session log database")
	sessionID  = flag.String("session", "", "Session ID to report on (default: most recent)")
	outPath    = flag.String("out", "session-report.html", "Output HTML file")
	speedUnits = flag.String("units", units.KPH, "Speed units for the report")
)

func main() {
	flag.Parse()

	if !units.IsValid(*speedUnits) {
		log.Fatalf("unknown speed units %q, valid: %s", *speedUnits, strings.Join(units.ValidUnits, ", "))
	}

	db, err := sessionlog.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open session log: %v", err)
	}
	defer db.Close()

	id := *sessionID
	if id == "" {
		id, err = latestSession(db)
		if err != nil {
			log.Fatalf("failed to pick a session: %v", err)
		}
	}

	cycles, err := db.Cycles(id)
	if err != nil {
		log.Fatalf("failed to load cycles: %v", err)
	}
	if len(cycles) == 0 {
		log.Fatalf("session %s has no recorded cycles", id)
	}
	alerts, err := db.Alerts(id)
	if err != nil {
		log.Fatalf("failed to load alerts: %v", err)
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Session %s", id)
	page.AddCharts(
		speedChart(cycles, *speedUnits),
		curvatureChart(cycles),
		actuatorChart(cycles),
	)

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}

	printSummary(os.Stdout, id, cycles, alerts, *speedUnits)
	log.Printf("report written to %s", *outPath)
}

func latestSession(db *sessionlog.DB) (string, error) {
	sessions, err := db.Sessions()
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions in %s", *dbPath)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions[len(sessions)-1].ID, nil
}

func frameAxis(cycles []sessionlog.CycleRow) []string {
	frames := make([]string, len(cycles))
	for i, c := range cycles {
		frames[i] = fmt.Sprintf("%d", c.Frame)
	}
	return frames
}

func lineSeries(values []float64) []opts.LineData {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}
	return data
}

func column(cycles []sessionlog.CycleRow, get func(sessionlog.CycleRow) float64) []float64 {
	out := make([]float64, len(cycles))
	for i, c := range cycles {
		out[i] = get(c)
	}
	return out
}

func speedChart(cycles []sessionlog.CycleRow, unit string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Speed", Subtitle: fmt.Sprintf("%s over frames", unit)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(frameAxis(cycles)).
		AddSeries("v_ego", lineSeries(column(cycles, func(c sessionlog.CycleRow) float64 {
			return units.ConvertSpeed(c.VEgo, unit)
		}))).
		AddSeries("a_ego", lineSeries(column(cycles, func(c sessionlog.CycleRow) float64 { return c.AEgo })))
	return line
}

func curvatureChart(cycles []sessionlog.CycleRow) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Curvature", Subtitle: "desired vs measured (1/m)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(frameAxis(cycles)).
		AddSeries("desired", lineSeries(column(cycles, func(c sessionlog.CycleRow) float64 { return c.DesiredCurvature }))).
		AddSeries("measured", lineSeries(column(cycles, func(c sessionlog.CycleRow) float64 { return c.CurrentCurvature })))
	return line
}

func actuatorChart(cycles []sessionlog.CycleRow) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Actuators", Subtitle: "steer torque [-1..1], accel (m/s^2)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(frameAxis(cycles)).
		AddSeries("steer_torque", lineSeries(column(cycles, func(c sessionlog.CycleRow) float64 { return c.SteerTorque }))).
		AddSeries("accel", lineSeries(column(cycles, func(c sessionlog.CycleRow) float64 { return c.Accel })))
	return line
}

func printSummary(w *os.File, id string, cycles []sessionlog.CycleRow, alerts []sessionlog.AlertRow, unit string) {
	speeds := column(cycles, func(c sessionlog.CycleRow) float64 { return c.VEgo })
	latErr := column(cycles, func(c sessionlog.CycleRow) float64 { return c.LatError })

	engaged := 0
	for _, c := range cycles {
		if c.Enabled {
			engaged++
		}
	}

	meanV, stdV := stat.MeanStdDev(speeds, nil)
	meanE, stdE := stat.MeanStdDev(latErr, nil)

	sort.Float64s(latErr)
	p95 := stat.Quantile(0.95, stat.Empirical, latErr, nil)

	fmt.Fprintf(w, "session %s\n", id)
	fmt.Fprintf(w, "  cycles recorded:   %d (%d engaged, %.1f%%)\n",
		len(cycles), engaged, 100*float64(engaged)/float64(len(cycles)))
	fmt.Fprintf(w, "  speed:             mean %.2f %s, stddev %.2f\n",
		units.ConvertSpeed(meanV, unit), unit, units.ConvertSpeed(stdV, unit))
	fmt.Fprintf(w, "  lateral error:     mean %.4f, stddev %.4f, p95 %.4f\n", meanE, stdE, p95)
	fmt.Fprintf(w, "  alerts:            %d\n", len(alerts))
	byID := map[string]int{}
	for _, a := range alerts {
		byID[a.AlertID]++
	}
	ids := make([]string, 0, len(byID))
	for k := range byID {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	for _, k := range ids {
		fmt.Fprintf(w, "    %-20s %d\n", k, byID[k])
	}
}
