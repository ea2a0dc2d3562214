// Command moc is the CLI client: it translates the flag surface of
// spec.md §6 into one or more control-socket commands against an
// already-running mocd. Grounded on the teacher's pflag-based CLI
// entrypoint style.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/moc-go/moc/internal/client"
	"github.com/moc-go/moc/internal/config"
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to config.yaml")
		append_    = pflag.StringArray("append", nil, "append a path to the playlist")
		enqueue    = pflag.StringArray("enqueue", nil, "alias of --append")
		clear      = pflag.Bool("clear", false, "clear the server playlist")
		play       = pflag.String("play", "", "play a file or playlist index by name")
		playit     = pflag.String("playit", "", "play a file directly, bypassing the playlist")
		stop       = pflag.Bool("stop", false, "stop playback")
		next       = pflag.Bool("next", false, "skip to the next track")
		previous   = pflag.Bool("previous", false, "go to the previous track")
		pause      = pflag.Bool("pause", false, "pause playback")
		unpause    = pflag.Bool("unpause", false, "resume playback")
		togglePause = pflag.Bool("toggle-pause", false, "toggle pause/unpause")
		exit       = pflag.Bool("exit", false, "ask the server to quit")
		seek       = pflag.Int("seek", 0, "relative seek in seconds (may be negative)")
		volume     = pflag.Int("volume", 0, "relative volume change (may be negative)")
		toggleOpt  = pflag.String("toggle", "", "toggle a boolean option by name")
		onOpt      = pflag.String("on", "", "turn a boolean option on by name")
		offOpt     = pflag.String("off", "", "turn a boolean option off by name")
		info       = pflag.Bool("info", false, "print current track info")
		setOption  = pflag.String("set-option", "", "key=value option override, e.g. Shuffle=1")
	)
	pflag.Parse()

	if err := run(cliArgs{
		configPath: *configPath, append_: *append_, enqueue: *enqueue, clear: *clear,
		play: *play, playit: *playit, stop: *stop, next: *next, previous: *previous,
		pause: *pause, unpause: *unpause, togglePause: *togglePause, exit: *exit,
		seek: *seek, volume: *volume, toggleOpt: *toggleOpt, onOpt: *onOpt, offOpt: *offOpt,
		info: *info, setOption: *setOption,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "moc:", err)
		os.Exit(1)
	}
}

type cliArgs struct {
	configPath                       string
	append_, enqueue                 []string
	clear                            bool
	play, playit                     string
	stop, next, previous             bool
	pause, unpause, togglePause, exit bool
	seek, volume                     int
	toggleOpt, onOpt, offOpt         string
	info                             bool
	setOption                        string
}

func run(a cliArgs) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	c, err := client.Dial(cfg.SocketPath, cfg.CookieFile)
	if err != nil {
		return fmt.Errorf("connecting to mocd (is the server running?): %w", err)
	}
	defer c.Close()

	if a.clear {
		if err := c.ListClear(); err != nil {
			return err
		}
	}
	for _, p := range append(a.append_, a.enqueue...) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if err := c.ListAdd(abs); err != nil {
			return err
		}
	}
	if a.playit != "" {
		if err := c.ListAdd(a.playit); err != nil {
			return err
		}
		if err := c.Play(a.playit); err != nil {
			return err
		}
	}
	if a.play != "" {
		if err := c.Play(a.play); err != nil {
			return err
		}
	}
	switch {
	case a.stop:
		err = c.Stop()
	case a.next:
		err = c.Next()
	case a.previous:
		err = c.Prev()
	case a.pause:
		err = c.Pause()
	case a.unpause:
		err = c.Unpause()
	case a.togglePause:
		err = togglePause(c)
	case a.exit:
		err = c.Quit()
	}
	if err != nil {
		return err
	}

	if a.seek != 0 {
		if err := c.Seek(a.seek); err != nil {
			return err
		}
	}
	if a.volume != 0 {
		if err := adjustVolume(c, a.volume); err != nil {
			return err
		}
	}
	if a.toggleOpt != "" {
		cur, err := c.GetOption(a.toggleOpt)
		if err != nil {
			return err
		}
		if err := c.SetOption(a.toggleOpt, !cur); err != nil {
			return err
		}
	}
	if a.onOpt != "" {
		if err := c.SetOption(a.onOpt, true); err != nil {
			return err
		}
	}
	if a.offOpt != "" {
		if err := c.SetOption(a.offOpt, false); err != nil {
			return err
		}
	}
	if a.setOption != "" {
		if err := applySetOption(c, a.setOption); err != nil {
			return err
		}
	}
	if a.info {
		return printInfo(c)
	}
	return nil
}

func togglePause(c *client.Client) error {
	state, err := c.GetState()
	if err != nil {
		return err
	}
	const statePause = 2 // controller.StatePause, mirrored here to avoid importing the server-side package
	if state == statePause {
		return c.Unpause()
	}
	return c.Pause()
}

func adjustVolume(c *client.Client, delta int) error {
	cur, err := c.GetMixer()
	if err != nil {
		return err
	}
	v := int(cur) + delta
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return c.SetMixer(v)
}

func applySetOption(c *client.Client, kv string) error {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			name := kv[:i]
			val := kv[i+1:]
			return c.SetOption(name, val != "0" && val != "")
		}
	}
	return fmt.Errorf("moc: --set-option expects key=value, got %q", kv)
}

func printInfo(c *client.Client) error {
	name, err := c.GetSName()
	if err != nil {
		return err
	}
	tags, err := c.GetTags()
	if err != nil {
		return err
	}
	ctime, err := c.GetCTime()
	if err != nil {
		return err
	}
	fmt.Printf("File: %s\n", name)
	fmt.Printf("Title: %s\nArtist: %s\nAlbum: %s\n", tags.Title, tags.Artist, tags.Album)
	fmt.Printf("Time: %.0fs\n", ctime)
	return nil
}
