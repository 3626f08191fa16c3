package cmd

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Zscore"

var exportCmd = &cobra.Command{
	Use:   "export <file.bin|file.csv>",
	Short: "Export a collected sample file to Excel with a z-score chart",
	Long: `Read a .bin or .csv file produced by collect, compute the cumulative
ones-count z-score per sample, and write an .xlsx next to the input with a
line chart of the drift. The collection parameters are recovered from the
file name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportFile(args[0])
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

// sampleRow is one collected sample: a category label (block number or
// timestamp), its ones count, and the derived cumulative statistics.
type sampleRow struct {
	Label          string
	Ones           int
	CumulativeMean float64
	ZScore         float64
}

var (
	intervalRe = regexp.MustCompile(`_i(\d+)`)
	bitsRe     = regexp.MustCompile(`_s(\d+)_i`)
)

// findInterval recovers the sampling interval in seconds from a collected
// file's name.
func findInterval(path string) (int, error) {
	m := intervalRe.FindStringSubmatch(path)
	if len(m) < 2 {
		return 0, fmt.Errorf("interval not found in file name: %s", filepath.Base(path))
	}
	return strconv.Atoi(m[1])
}

// findBitCount recovers the per-sample bit count from a collected file's
// name.
func findBitCount(path string) (int, error) {
	m := bitsRe.FindStringSubmatch(path)
	if len(m) < 2 {
		return 0, fmt.Errorf("bit count not found in file name: %s", filepath.Base(path))
	}
	return strconv.Atoi(m[1])
}

// readBinRows slices a .bin file into blocks of blockBits bits and counts
// ones per block. A partial trailing block is kept.
func readBinRows(path string, blockBits int) ([]sampleRow, error) {
	if blockBits%8 != 0 {
		return nil, errors.New("block size must be a multiple of 8 bits for .bin files")
	}
	bytesPerBlock := blockBits / 8
	if bytesPerBlock <= 0 {
		return nil, errors.New("invalid block size")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	rows := make([]sampleRow, 0, 1024)
	buf := make([]byte, bytesPerBlock)
	for block := 1; ; block++ {
		n, err := io.ReadFull(reader, buf)
		if n == 0 {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		ones := 0
		for i := 0; i < n; i++ {
			ones += bits.OnesCount8(buf[i])
		}
		rows = append(rows, sampleRow{Label: strconv.Itoa(block), Ones: ones})
		if n < bytesPerBlock {
			break
		}
	}
	return rows, nil
}

// readCSVRows reads a headerless timestamp,ones .csv file.
func readCSVRows(path string) ([]sampleRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	rows := make([]sampleRow, 0, len(records))
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		ones, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid ones value %q: %w", rec[1], err)
		}
		rows = append(rows, sampleRow{Label: timeLabel(strings.TrimSpace(rec[0])), Ones: ones})
	}
	return rows, nil
}

// timeLabel normalizes a timestamp to HH:MM:SS, falling back to the raw
// string.
func timeLabel(s string) string {
	for _, layout := range []string{
		"20060102T15:04:05",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04:05")
		}
	}
	return s
}

// zScores fills in the cumulative mean and z-score per row. Under the null
// hypothesis ones per block is binomial(blockBits, 0.5), so the cumulative
// mean of i+1 samples has standard error sqrt(blockBits/4)/sqrt(i+1).
func zScores(rows []sampleRow, blockBits int) []sampleRow {
	expectedMean := 0.5 * float64(blockBits)
	expectedStdDev := math.Sqrt(float64(blockBits) * 0.25)
	if expectedStdDev == 0 {
		return rows
	}
	sum := 0
	for i := range rows {
		sum += rows[i].Ones
		cum := float64(sum) / float64(i+1)
		rows[i].CumulativeMean = cum
		rows[i].ZScore = (cum - expectedMean) / (expectedStdDev / math.Sqrt(float64(i+1)))
	}
	return rows
}

// writeWorkbook writes rows and a z-score line chart to an .xlsx next to the
// input file.
func writeWorkbook(rows []sampleRow, path string, blockBits, intervalSec int, labelHeader string) error {
	if len(rows) == 0 {
		return errors.New("no data to export")
	}
	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".xlsx"
	f := excelize.NewFile()
	defer f.Close()

	defaultSheet := f.GetSheetName(0)
	if defaultSheet != exportSheet {
		f.NewSheet(exportSheet)
		f.DeleteSheet(defaultSheet)
	}

	_ = f.SetCellStr(exportSheet, "A1", labelHeader)
	_ = f.SetCellStr(exportSheet, "B1", "ones")
	_ = f.SetCellStr(exportSheet, "C1", "cumulative_mean")
	_ = f.SetCellStr(exportSheet, "D1", "z_test")
	for i, r := range rows {
		rowIdx := i + 2
		_ = f.SetCellStr(exportSheet, fmt.Sprintf("A%d", rowIdx), r.Label)
		_ = f.SetCellInt(exportSheet, fmt.Sprintf("B%d", rowIdx), r.Ones)
		_ = f.SetCellFloat(exportSheet, fmt.Sprintf("C%d", rowIdx), r.CumulativeMean, 6, 64)
		_ = f.SetCellFloat(exportSheet, fmt.Sprintf("D%d", rowIdx), r.ZScore, 6, 64)
	}

	endRow := len(rows) + 1
	chart := &excelize.Chart{
		Type: excelize.Line,
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("%s!$D$1", exportSheet),
			Categories: fmt.Sprintf("%s!$A$2:$A$%d", exportSheet, endRow),
			Values:     fmt.Sprintf("%s!$D$2:$D$%d", exportSheet, endRow),
		}},
		Title:  []excelize.RichTextRun{{Text: filepath.Base(path)}},
		Legend: excelize.ChartLegend{Position: "none"},
		XAxis: excelize.ChartAxis{
			Title: []excelize.RichTextRun{{Text: fmt.Sprintf("Samples - one every %d second(s)", intervalSec)}},
		},
		YAxis: excelize.ChartAxis{
			Title:          []excelize.RichTextRun{{Text: fmt.Sprintf("Z-score - sample size %d bits", blockBits)}},
			MajorGridLines: true,
		},
	}
	if err := f.AddChart(exportSheet, "F2", chart); err != nil {
		return err
	}
	return f.SaveAs(outPath)
}

func exportFile(path string) error {
	interval, err := findInterval(path)
	if err != nil {
		return err
	}
	blockBits, err := findBitCount(path)
	if err != nil {
		return err
	}

	var rows []sampleRow
	labelHeader := "samples"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		rows, err = readBinRows(path, blockBits)
	case ".csv":
		rows, err = readCSVRows(path)
		labelHeader = "time"
	default:
		return fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	return writeWorkbook(zScores(rows, blockBits), path, blockBits, interval, labelHeader)
}
