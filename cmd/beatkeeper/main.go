package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/yok-tottii/beatkeeper/internal/audio"
	"github.com/yok-tottii/beatkeeper/internal/config"
	"github.com/yok-tottii/beatkeeper/internal/history"
	"github.com/yok-tottii/beatkeeper/internal/metronome"
	"github.com/yok-tottii/beatkeeper/internal/sound"
)

const version = "0.1.0"

func init() {
	// macOSのGUIとホットキーはメインスレッドで動かす必要がある
	runtime.LockOSThread()
}

// Globals are flags shared by every command
type Globals struct {
	Config   string `short:"c" type:"path" help:"Path to config.json (default: user config directory)"`
	LogLevel string `help:"Log level: DEBUG, INFO, WARN or ERROR (overrides config)" placeholder:"LEVEL"`
}

// CLI defines the command-line interface
type CLI struct {
	Globals

	Tray    TrayCmd    `cmd:"" default:"1" help:"Run in the menu bar with global hotkeys (default)"`
	TUI     TUICmd     `cmd:"" name:"tui" help:"Run the terminal interface"`
	Devices DevicesCmd `cmd:"" help:"List audio devices"`
	History HistoryCmd `cmd:"" help:"Show recent listening sessions"`
	Check   CheckCmd   `cmd:"" help:"Run the metronome silently and report timing stability"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("beatkeeper"),
		kong.Description("Metronome with live tempo detection"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)

	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// VersionCmd prints the version
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("Beatkeeper v%s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
	return nil
}

// DevicesCmd lists capture or playback devices
type DevicesCmd struct {
	Output bool `short:"o" help:"List output devices instead of inputs"`
}

func (c *DevicesCmd) Run(g *Globals) error {
	driver, err := audio.NewPortAudioDriver()
	if err != nil {
		return err
	}
	defer driver.Close()

	dir := audio.Input
	if c.Output {
		dir = audio.Output
	}
	devices, err := driver.ListDevices(dir)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return audio.ErrNoInputDevice
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCHANNELS\tRATE\t")
	for _, d := range devices {
		channels := d.InputChannels
		if c.Output {
			channels = d.OutputChannels
		}
		name := d.Name
		if d.IsDefault {
			name += " (default)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%.0f\t\n", d.ID, name, channels, d.DefaultSampleRate)
	}
	return w.Flush()
}

// HistoryCmd lists listening sessions from the history database
type HistoryCmd struct {
	Limit int `short:"n" default:"20" help:"Number of sessions to show"`
	Prune int `help:"Delete sessions older than this many days first" placeholder:"DAYS"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	path := g.Config
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	dbPath, err := cfg.GetHistoryPath()
	if err != nil {
		return err
	}
	if dbPath == "" {
		return errors.New("history is disabled (history_path is empty)")
	}

	store, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Prune > 0 {
		n, err := store.Prune(time.Now().AddDate(0, 0, -c.Prune))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d session(s)\n", n)
	}

	sessions, err := store.Sessions(c.Limit)
	if err != nil {
		return err
	}
	printSessions(os.Stdout, sessions)
	return nil
}

func printSessions(out io.Writer, sessions []history.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tMODE\tBEATS\tTEMPO\tAVERAGE\t")
	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f\t\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.Mode,
			s.Beats, s.FinalTempo, s.AverageTempo)
	}
	w.Flush()
}

// CheckCmd drives the scheduler without audio and measures beat spacing
type CheckCmd struct {
	Tempo    int           `short:"t" default:"120" help:"Tempo to run at"`
	Duration time.Duration `short:"d" default:"10s" help:"How long to run"`
}

type silentPlayer struct{}

func (silentPlayer) PlayBeat(sound.Voice, int, bool, bool) {}
func (silentPlayer) PlayCountIn(int, int)                  {}

func (c *CheckCmd) Run(g *Globals) error {
	settings := metronome.DefaultSettings()
	settings.Tempo = c.Tempo
	settings, _ = settings.Normalize()

	met := metronome.New(settings, silentPlayer{}, nil)
	defer met.Close()

	var (
		mu    sync.Mutex
		times []time.Time
		last  = -1
	)
	met.OnBeatChanged(func(s metronome.Snapshot) {
		now := time.Now()
		mu.Lock()
		defer mu.Unlock()
		if s.State != metronome.Playing || s.BeatCount == last {
			return
		}
		last = s.BeatCount
		times = append(times, now)
	})

	fmt.Printf("Running at %d BPM for %s...\n", settings.Tempo, c.Duration)
	met.Start()
	time.Sleep(c.Duration)
	met.Stop()

	mu.Lock()
	times = append([]time.Time(nil), times...)
	mu.Unlock()

	interval := time.Minute / time.Duration(settings.Tempo)
	s := metronome.MeasureStability(times, interval)
	fmt.Printf("beats:    %d / %d expected\n", s.Beats, s.Expected)
	fmt.Printf("interval: %s (expected %s)\n", s.MeanInterval.Round(time.Microsecond), interval)
	fmt.Printf("jitter:   %s\n", s.Jitter.Round(time.Microsecond))
	fmt.Printf("accuracy: %.1f%%\n", s.Accuracy*100)

	if !s.Passed() {
		return fmt.Errorf("timing check failed")
	}
	fmt.Println("OK")
	return nil
}
