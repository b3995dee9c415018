package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	vcdiff "github.com/vcdiffgo/vcdiff"
)

const feedChunkSize = 32 * 1024

var (
	verbose bool
	log     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "vcdiff",
	Short: "VCDIFF CLI Tool",
	Long: `A command-line tool for working with VCDIFF (RFC 3284) delta files.

VCDIFF is a format for expressing one data stream as a variant of another data stream,
commonly used for binary differencing, compression, and patch applications.`,
	Version: "1.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log window-by-window decode progress")
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(batchCmd)
}

// runID tags every log line emitted by a single CLI invocation so that
// invocation's lines can be grouped together; batch entries are told apart
// by their manifest line number, not by this id.
func runID() string { return uuid.NewString()[:8] }

// feed drives d to completion over data, calling onEvent for every Step
// result other than NeedInput (which feed handles by advancing through
// data in feedChunkSize pieces). It returns the error from Finish once data
// is exhausted, or the first error Step returns.
func feed(d *vcdiff.Decoder, data []byte, onEvent func(vcdiff.Event) error) error {
	pos := 0
	for {
		ev, err := d.Step()
		if err != nil {
			return err
		}
		if ev == vcdiff.EventNeedInput {
			if pos >= len(data) {
				return d.Finish()
			}
			end := pos + feedChunkSize
			if end > len(data) {
				end = len(data)
			}
			d.Feed(data[pos:end])
			pos = end
			continue
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
}

func printHeaderFlags(h vcdiff.Header) string {
	if h.Indicator == 0 {
		return "none"
	}
	var flags []string
	if h.HasSecondID {
		flags = append(flags, "VCD_DECOMPRESS")
	}
	return strings.Join(flags, ", ")
}

func printWindowFlags(w vcdiff.WindowInfo) string {
	var flags []string
	if w.Indicator&0x01 != 0 {
		flags = append(flags, "VCD_SOURCE")
	}
	if w.Indicator&0x02 != 0 {
		flags = append(flags, "VCD_TARGET")
	}
	if w.Indicator&0x04 != 0 {
		flags = append(flags, "VCD_ADLER32")
	}
	if len(flags) == 0 {
		return "none"
	}
	return strings.Join(flags, ", ")
}

// --- apply ---

var (
	applyBaseFile   string
	applyDeltaFile  string
	applyOutputFile string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a VCDIFF delta to a base document",
	Long: `Apply a VCDIFF delta to a base document to produce the target document.

The base document is the original file, and the delta contains the changes
needed to transform it into the target document.`,
	Example: `  vcdiff apply --base old.txt --delta patch.vcdiff --output new.txt
  vcdiff apply --base old.txt --delta patch.vcdiff  # Output to stdout`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyBaseFile, "base", "b", "", "Path to base document file")
	applyCmd.Flags().StringVarP(&applyDeltaFile, "delta", "d", "", "Path to VCDIFF delta file")
	applyCmd.Flags().StringVarP(&applyOutputFile, "output", "o", "", "Path to output file (default: stdout)")
	applyCmd.MarkFlagRequired("delta")
}

func runApply(cmd *cobra.Command, args []string) error {
	id := runID()
	deltaData, err := os.ReadFile(applyDeltaFile)
	if err != nil {
		return fmt.Errorf("error reading delta file: %w", err)
	}

	d := vcdiff.NewDecoder()
	if applyBaseFile != "" {
		baseData, err := os.ReadFile(applyBaseFile)
		if err != nil {
			return fmt.Errorf("error reading base file: %w", err)
		}
		d.AttachSource(vcdiff.NewMemorySource(baseData, 4096))
	}

	var result []byte
	err = feed(d, deltaData, func(ev vcdiff.Event) error {
		switch ev {
		case vcdiff.EventGotHeader:
			log.WithField("run", id).Debug("parsed stream header")
		case vcdiff.EventWinStart:
			log.WithField("run", id).Debugf("window %d: starting", d.WindowInfo().Index)
		case vcdiff.EventOutput:
			result = append(result, d.Output()...)
		case vcdiff.EventWinFinish:
			log.WithField("run", id).Debugf("window %d: emitted %d bytes", d.WindowInfo().Index, len(result))
		case vcdiff.EventNeedSource:
			return fmt.Errorf("delta references a source window but no -base file was given")
		case vcdiff.EventNeedSourceBlock:
			return fmt.Errorf("unexpected NeedSourceBlock from an in-memory source")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error applying delta: %w", err)
	}

	var output io.Writer = os.Stdout
	if applyOutputFile != "" {
		file, err := os.Create(applyOutputFile)
		if err != nil {
			return fmt.Errorf("error creating output file: %w", err)
		}
		defer file.Close()
		output = file
	}

	if _, err := output.Write(result); err != nil {
		return fmt.Errorf("error writing output: %w", err)
	}
	return nil
}

// --- parse ---

var parseDeltaFile string

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse a VCDIFF delta and show human-readable representation",
	Long: `Parse a VCDIFF delta file and display its header and window layout,
without requiring the base document and without materializing target bytes.`,
	Example: `  vcdiff parse --delta patch.vcdiff
  vcdiff parse -d patch.vcdiff  # Short form`,
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseDeltaFile, "delta", "d", "", "Path to VCDIFF delta file")
	parseCmd.MarkFlagRequired("delta")
}

func runParse(cmd *cobra.Command, args []string) error {
	deltaData, err := os.ReadFile(parseDeltaFile)
	if err != nil {
		return fmt.Errorf("error reading delta file: %w", err)
	}

	d := vcdiff.NewDecoder()
	d.SetFlags(vcdiff.FlagSkipWindow)

	windowCount := 0
	err = feed(d, deltaData, func(ev vcdiff.Event) error {
		switch ev {
		case vcdiff.EventGotHeader:
			printHeader(d.Header())
			fallthrough
		case vcdiff.EventWinStart:
			w := d.WindowInfo()
			fmt.Printf("  Window %d:\n", w.Index)
			printWindow(w)
		case vcdiff.EventWinFinish:
			windowCount = d.WindowInfo().Index + 1
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error parsing delta: %w", err)
	}
	fmt.Printf("\nParsed %d window(s)\n", windowCount)
	return nil
}

func printHeader(h vcdiff.Header) {
	fmt.Printf("VCDIFF Header:\n")
	fmt.Printf("  Indicator: 0x%02x (%s)\n", h.Indicator, printHeaderFlags(h))
	if h.HasSecondID {
		fmt.Printf("  SecondaryID: 0x%02x\n", h.SecondaryID)
	}
	if len(h.AppHeader) > 0 {
		fmt.Printf("  AppHeader: %q\n", h.AppHeader)
	}
}

func printWindow(w vcdiff.WindowInfo) {
	fmt.Printf("    WinIndicator:        0x%02x (%s)\n", w.Indicator, printWindowFlags(w))
	fmt.Printf("    SourceSegmentSize:   0x%x (%d)\n", w.SourceSegmentSize, w.SourceSegmentSize)
	fmt.Printf("    SourceSegmentPos:    0x%x (%d)\n", w.SourceSegmentPos, w.SourceSegmentPos)
	fmt.Printf("    TargetWindowLength:  0x%x (%d)\n", w.TargetWindowLength, w.TargetWindowLength)
	fmt.Printf("    DeltaIndicator:      0x%02x\n", w.DeltaIndicator)
	if w.HasChecksum {
		fmt.Printf("    Adler32:             0x%08x\n", w.Checksum)
	}
}

// --- analyze ---

var (
	analyzeBaseFile  string
	analyzeDeltaFile string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a VCDIFF delta with base document context",
	Long: `Analyze a VCDIFF delta file with access to the base document, decoding it
fully and printing a hexdump of each window's decoded bytes alongside its
header fields.`,
	Example: `  vcdiff analyze --base old.txt --delta patch.vcdiff
  vcdiff analyze -b old.txt -d patch.vcdiff  # Short form`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeBaseFile, "base", "b", "", "Path to base document file")
	analyzeCmd.Flags().StringVarP(&analyzeDeltaFile, "delta", "d", "", "Path to VCDIFF delta file")
	analyzeCmd.MarkFlagRequired("delta")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	deltaData, err := os.ReadFile(analyzeDeltaFile)
	if err != nil {
		return fmt.Errorf("error reading delta file: %w", err)
	}

	d := vcdiff.NewDecoder()
	if analyzeBaseFile != "" {
		baseData, err := os.ReadFile(analyzeBaseFile)
		if err != nil {
			return fmt.Errorf("error reading base file: %w", err)
		}
		d.AttachSource(vcdiff.NewMemorySource(baseData, 4096))
	}

	err = feed(d, deltaData, func(ev vcdiff.Event) error {
		switch ev {
		case vcdiff.EventGotHeader:
			printHeader(d.Header())
			fallthrough
		case vcdiff.EventWinStart:
			w := d.WindowInfo()
			fmt.Printf("  Window %d:\n", w.Index)
			printWindow(w)
		case vcdiff.EventOutput:
			fmt.Printf("    Decoded bytes:\n")
			printHexDump(d.Output(), os.Stdout, 0)
		case vcdiff.EventNeedSource:
			return fmt.Errorf("delta references a source window but no -base file was given")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error analyzing delta: %w", err)
	}
	return nil
}

func printHexDump(data []byte, w io.Writer, baseOffset int) {
	const bytesPerLine = 16
	for i := 0; i < len(data); i += bytesPerLine {
		end := i + bytesPerLine
		if end > len(data) {
			end = len(data)
		}
		line := data[i:end]

		fmt.Fprintf(w, "      %08x  ", baseOffset+i)
		for j := 0; j < bytesPerLine; j++ {
			if j < len(line) {
				fmt.Fprintf(w, "%02x ", line[j])
			} else {
				fmt.Fprintf(w, "   ")
			}
			if j == 7 {
				fmt.Fprintf(w, " ")
			}
		}
		fmt.Fprintf(w, " |")
		for j := 0; j < len(line); j++ {
			if line[j] >= 32 && line[j] <= 126 {
				fmt.Fprintf(w, "%c", line[j])
			} else {
				fmt.Fprintf(w, ".")
			}
		}
		fmt.Fprintf(w, "|\n")
	}
}

// --- verify ---

var (
	verifyBaseFile  string
	verifyDeltaFile string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Decode a VCDIFF delta and report Adler-32 status per window",
	Long: `Decode a VCDIFF delta file end to end, reporting each window's Adler-32
checksum status, without writing the decoded target document anywhere.

The decoder still has to materialize each window's bytes internally to
compute the checksum over them; verify simply discards that output instead
of persisting it to a file.`,
	Example: `  vcdiff verify --delta patch.vcdiff
  vcdiff verify --base old.txt --delta patch.vcdiff`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyBaseFile, "base", "b", "", "Path to base document file")
	verifyCmd.Flags().StringVarP(&verifyDeltaFile, "delta", "d", "", "Path to VCDIFF delta file")
	verifyCmd.MarkFlagRequired("delta")
}

func runVerify(cmd *cobra.Command, args []string) error {
	id := runID()
	deltaData, err := os.ReadFile(verifyDeltaFile)
	if err != nil {
		return fmt.Errorf("error reading delta file: %w", err)
	}

	d := vcdiff.NewDecoder()
	if verifyBaseFile != "" {
		baseData, err := os.ReadFile(verifyBaseFile)
		if err != nil {
			return fmt.Errorf("error reading base file: %w", err)
		}
		d.AttachSource(vcdiff.NewMemorySource(baseData, 4096))
	}

	err = feed(d, deltaData, func(ev vcdiff.Event) error {
		switch ev {
		case vcdiff.EventWinFinish:
			w := d.WindowInfo()
			if w.HasChecksum {
				fmt.Printf("window %d: checksum 0x%08x OK\n", w.Index, w.Checksum)
			} else {
				fmt.Printf("window %d: no checksum present\n", w.Index)
			}
			log.WithField("run", id).Debugf("window %d verified", w.Index)
		case vcdiff.EventNeedSource:
			return fmt.Errorf("delta references a source window but no -base file was given")
		}
		return nil
	})
	if err != nil {
		fmt.Printf("verification FAILED: %v\n", err)
		return err
	}
	fmt.Println("verification OK")
	return nil
}

// --- batch ---

var batchManifestFile string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Apply the base/delta/output triples listed in a manifest",
	Long: `Apply VCDIFF deltas to many base/output file pairs, one base, delta and
output per line of a manifest file, in the form:

  base-path delta-path output-path

Each line is applied independently; a FileSource reads each base document
directly off disk via io.ReaderAt rather than loading it fully into memory.`,
	Example: `  vcdiff batch --manifest jobs.txt`,
	RunE:    runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchManifestFile, "manifest", "m", "", "Path to the manifest file")
	batchCmd.MarkFlagRequired("manifest")
}

func runBatch(cmd *cobra.Command, args []string) error {
	batchID := runID()
	f, err := os.Open(batchManifestFile)
	if err != nil {
		return fmt.Errorf("error opening manifest: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	entries := 0
	failures := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return fmt.Errorf("manifest line %d: expected 3 fields (base delta output), got %d", line, len(fields))
		}
		entries++
		basePath, deltaPath, outputPath := fields[0], fields[1], fields[2]

		entryLog := log.WithField("run", batchID).WithField("line", line)
		if err := applyOne(basePath, deltaPath, outputPath); err != nil {
			entryLog.Errorf("failed: %v", err)
			failures++
			continue
		}
		entryLog.Debugf("applied %s + %s -> %s", basePath, deltaPath, outputPath)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d manifest entries failed", failures, entries)
	}
	fmt.Printf("batch %s: applied %d entries\n", batchID, entries)
	return nil
}

func applyOne(basePath, deltaPath, outputPath string) error {
	deltaData, err := os.ReadFile(deltaPath)
	if err != nil {
		return fmt.Errorf("reading delta: %w", err)
	}

	d := vcdiff.NewDecoder()
	baseFile, err := os.Open(basePath)
	if err != nil {
		return fmt.Errorf("opening base: %w", err)
	}
	defer baseFile.Close()
	info, err := baseFile.Stat()
	if err != nil {
		return fmt.Errorf("stat base: %w", err)
	}
	d.AttachSource(vcdiff.NewFileSource(baseFile, info.Size(), 4096))

	var result []byte
	err = feed(d, deltaData, func(ev vcdiff.Event) error {
		switch ev {
		case vcdiff.EventOutput:
			result = append(result, d.Output()...)
		case vcdiff.EventNeedSource:
			return fmt.Errorf("delta references a source window but the base file could not supply one")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("applying delta: %w", err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()
	if _, err := out.Write(result); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
