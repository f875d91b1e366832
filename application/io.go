package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"Academic_Probation_RDD_Project/dataset"
	"Academic_Probation_RDD_Project/mte"
	"Academic_Probation_RDD_Project/rdd"
)

// writeCSV creates path (and its directory) and writes header followed by rows.
func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return file.Close()
}

// formatFloat renders NaN as an empty cell so missing values stay missing.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func curveRecords(group string, c *rdd.Curve) [][]string {
	rows := make([][]string, 0, len(c.Steps))
	for _, s := range c.Steps {
		pred, disc := s.Prediction, s.Discontinuity
		if !s.OK() {
			pred = math.NaN()
		}
		if !s.Identified {
			disc = math.NaN()
		}
		rec := []string{
			formatFloat(s.Step),
			formatFloat(s.Below),
			formatFloat(pred),
			formatFloat(disc),
			strconv.Itoa(s.Nobs),
			formatErr(s.Err),
		}
		if group != "" {
			rec = append([]string{group}, rec...)
		}
		rows = append(rows, rec)
	}
	return rows
}

var curveHeader = []string{"Step", "Below", "Prediction", "Discontinuity", "Nobs", "Error"}

// OutputCurveToCSV writes one prediction curve, one row per grid step.
// Failed steps have an empty prediction and the error in the last column.
func OutputCurveToCSV(path string, c *rdd.Curve) error {
	return writeCSV(path, curveHeader, curveRecords("", c))
}

// OutputCurvesToCSV writes subgroup curves in long format, groups sorted by name.
func OutputCurvesToCSV(path string, curves map[string]*rdd.Curve) error {
	groups := make([]string, 0, len(curves))
	for g := range curves {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var rows [][]string
	for _, g := range groups {
		rows = append(rows, curveRecords(g, curves[g])...)
	}
	return writeCSV(path, append([]string{"Group"}, curveHeader...), rows)
}

// OutputBandToCSV writes the bootstrap band.
// Columns: Step, Point, Lower, Upper, Resamples, Failures, Error
func OutputBandToCSV(path string, b *rdd.Band) error {
	rows := make([][]string, 0, len(b.Steps))
	for _, s := range b.Steps {
		point, lower, upper := s.Point, s.Lower, s.Upper
		if s.PointErr != nil {
			point = math.NaN()
		}
		if !s.Valid() {
			lower, upper = math.NaN(), math.NaN()
		}
		errText := formatErr(s.Err)
		if errText == "" {
			errText = formatErr(s.PointErr)
		}
		rows = append(rows, []string{
			formatFloat(s.Step),
			formatFloat(point),
			formatFloat(lower),
			formatFloat(upper),
			strconv.Itoa(s.Resamples),
			strconv.Itoa(s.Failures),
			errText,
		})
	}
	return writeCSV(path, []string{"Step", "Point", "Lower", "Upper", "Resamples", "Failures", "Error"}, rows)
}

// OutputResamplesToCSV writes every resample curve in long format.
// Columns: Resample, Step, Prediction, Error
func OutputResamplesToCSV(path string, b *rdd.Band) error {
	var rows [][]string
	for r, c := range b.Curves {
		for _, s := range c {
			pred := s.Prediction
			if !s.OK() {
				pred = math.NaN()
			}
			rows = append(rows, []string{
				strconv.Itoa(r),
				formatFloat(s.Step),
				formatFloat(pred),
				formatErr(s.Err),
			})
		}
	}
	return writeCSV(path, []string{"Resample", "Step", "Prediction", "Error"}, rows)
}

var tableHeader = []string{
	"Label",
	"Coef",
	"PValue",
	"StdErr",
	"Intercept",
	"InterceptPValue",
	"InterceptStdErr",
	"Observations",
}

// OutputTableToCSV writes regression table rows.
func OutputTableToCSV(path string, rows []rdd.TableRow) error {
	recs := make([][]string, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, []string{
			r.Label,
			strconv.FormatFloat(r.Coef, 'f', 3, 64),
			strconv.FormatFloat(r.PValue, 'f', 3, 64),
			strconv.FormatFloat(r.StdErr, 'f', 3, 64),
			strconv.FormatFloat(r.Intercept, 'f', 3, 64),
			strconv.FormatFloat(r.InterceptPValue, 'f', 3, 64),
			strconv.FormatFloat(r.InterceptStdErr, 'f', 3, 64),
			strconv.Itoa(r.Observations),
		})
	}
	return writeCSV(path, tableHeader, recs)
}

// OutputBinFrequencyToCSV writes the number of students per bin.
func OutputBinFrequencyToCSV(path string, bins []dataset.BinCount) error {
	rows := make([][]string, 0, len(bins))
	for _, b := range bins {
		rows = append(rows, []string{formatFloat(b.Bin), strconv.Itoa(b.Freq), formatFloat(b.Const)})
	}
	return writeCSV(path, []string{"Bin", "Freq", "Const"}, rows)
}

// OutputBinMeansToCSV writes the mean outcome per bin.
func OutputBinMeansToCSV(path string, bins []dataset.BinMean) error {
	rows := make([][]string, 0, len(bins))
	for _, b := range bins {
		rows = append(rows, []string{formatFloat(b.Bin), formatFloat(b.Mean), strconv.Itoa(b.N)})
	}
	return writeCSV(path, []string{"Bin", "Mean", "N"}, rows)
}

// OutputMTEBandToCSV writes the MTE band, followed by the reference band
// when ref is not nil.
func OutputMTEBandToCSV(path string, band, ref *mte.Band) error {
	header := []string{"Quantile", "Point", "Lower", "Upper"}
	if ref != nil {
		if ref.Len() != band.Len() {
			return fmt.Errorf("reference band has %d quantiles, band has %d: %w", ref.Len(), band.Len(), mte.ErrDimensionMismatch)
		}
		header = append(header, "ReferencePoint", "ReferenceLower", "ReferenceUpper")
	}

	rows := make([][]string, 0, band.Len())
	for i, q := range band.Quantiles {
		rec := []string{
			formatFloat(q),
			formatFloat(band.Point[i]),
			formatFloat(band.Lower[i]),
			formatFloat(band.Upper[i]),
		}
		if ref != nil {
			rec = append(rec, formatFloat(ref.Point[i]), formatFloat(ref.Lower[i]), formatFloat(ref.Upper[i]))
		}
		rows = append(rows, rec)
	}
	return writeCSV(path, header, rows)
}

// PrintCurve prints a prediction curve as a table.
func PrintCurve(w io.Writer, c *rdd.Curve) {
	fmt.Fprintf(w, "\n=== Predictions: %s (bandwidth %.2f) ===\n", c.Outcome, c.Bandwidth)
	fmt.Fprintf(w, "%8s %12s %14s %6s\n", "Step", "Prediction", "Discontinuity", "Nobs")
	for _, s := range c.Steps {
		if !s.OK() {
			fmt.Fprintf(w, "%8.2f %12s %14s %6d  %v\n", s.Step, "-", "-", s.Nobs, s.Err)
			continue
		}
		disc := "-"
		if s.Identified {
			disc = fmt.Sprintf("%.6f", s.Discontinuity)
		}
		fmt.Fprintf(w, "%8.2f %12.6f %14s %6d\n", s.Step, s.Prediction, disc, s.Nobs)
	}
}

// PrintBand prints the bootstrap band at each step.
func PrintBand(w io.Writer, b *rdd.Band) {
	fmt.Fprintf(w, "\n=== Bootstrap band: %s (%.1f%%-%.1f%%, %d resamples, seed %d) ===\n",
		b.Outcome, b.Lower, b.Upper, len(b.Curves), b.Seed)
	fmt.Fprintf(w, "%8s %12s %12s %12s %9s\n", "Step", "Point", "Lower", "Upper", "Failures")
	for _, s := range b.Steps {
		if !s.Valid() {
			fmt.Fprintf(w, "%8.2f %12s %12s %12s %9d  %v\n", s.Step, "-", "-", "-", s.Failures, s.Err)
			continue
		}
		fmt.Fprintf(w, "%8.2f %12.6f %12.6f %12.6f %9d\n", s.Step, s.Point, s.Lower, s.Upper, s.Failures)
	}
}

// PrintTable prints regression rows with standard errors in parentheses.
func PrintTable(w io.Writer, title string, rows []rdd.TableRow) {
	fmt.Fprintf(w, "\n=== %s ===\n", title)
	fmt.Fprintf(w, "%-20s | %18s | %7s | %18s | %7s | %6s\n",
		"", "Below cutoff", "P", "Intercept", "P", "N")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------------------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-20s | %8.3f (%7.3f) | %7.3f | %8.3f (%7.3f) | %7.3f | %6d\n",
			r.Label, r.Coef, r.StdErr, r.PValue,
			r.Intercept, r.InterceptStdErr, r.InterceptPValue, r.Observations)
	}
}

// PrintBinFrequency prints the number of students per bin.
func PrintBinFrequency(w io.Writer, bins []dataset.BinCount) {
	fmt.Fprintln(w, "\n=== Bin frequency ===")
	fmt.Fprintf(w, "%10s %8s\n", "Bin", "Freq")
	for _, b := range bins {
		fmt.Fprintf(w, "%10.2f %8d\n", b.Bin, b.Freq)
	}
}

// PrintMTEBand prints the MTE band at each quantile.
func PrintMTEBand(w io.Writer, b *mte.Band) {
	fmt.Fprintln(w, "\n=== Marginal treatment effect ===")
	fmt.Fprintf(w, "critical value %.4f, covariate part %.6g, distribution part %.6g\n", b.Critical, b.Part1, b.Part2)
	fmt.Fprintf(w, "%8s %12s %12s %12s\n", "Quantile", "Lower", "MTE", "Upper")
	for i, q := range b.Quantiles {
		fmt.Fprintf(w, "%8.4f %12.6f %12.6f %12.6f\n", q, b.Lower[i], b.Point[i], b.Upper[i])
	}
}
