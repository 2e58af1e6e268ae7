package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/dmitrijs2005/chaincache/internal/cache"
)

func (a *App) commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "stats",
			Usage:  "Show record counts per collection",
			Action: a.action(a.stats),
		},
		{
			Name:  "clear",
			Usage: "Remove cached profiles, posts and entries",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "prefs", Usage: "Also remove user preferences"},
			},
			Action: a.action(a.clear),
		},
		{
			Name:  "sweep",
			Usage: "Delete expired cache entries",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "watch", Usage: "Keep sweeping at the configured interval"},
			},
			Action: a.action(a.sweep),
		},
		{
			Name:      "profile",
			Usage:     "Show a profile",
			ArgsUsage: "ADDRESS",
			Flags:     []cli.Flag{forceFlag()},
			Action:    a.action(a.profile),
		},
		{
			Name:  "posts",
			Usage: "List posts, newest first",
			Flags: []cli.Flag{
				forceFlag(),
				&cli.StringFlag{Name: "author", Aliases: []string{"a"}, Usage: "Only posts by this address"},
			},
			Action: a.action(a.posts),
		},
		{
			Name:      "post",
			Usage:     "Show a post",
			ArgsUsage: "ID",
			Flags:     []cli.Flag{forceFlag()},
			Action:    a.action(a.post),
		},
		{
			Name:      "prefs",
			Usage:     "Show or change user preferences",
			ArgsUsage: "ADDRESS",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "theme", Usage: "light, dark or system"},
				&cli.BoolFlag{Name: "notifications", Usage: "Enable notifications"},
				&cli.BoolFlag{Name: "auto-refresh", Usage: "Enable automatic refresh"},
				&cli.IntFlag{Name: "timeout", Usage: "Cache timeout in minutes"},
			},
			Action: a.action(a.prefs),
		},
		{
			Name:      "entry",
			Usage:     "Show a cache entry",
			ArgsUsage: "KEY",
			Action:    a.action(a.entry),
		},
		{
			Name:      "invalidate",
			Usage:     "Mark a cache entry as expired",
			ArgsUsage: "KEY",
			Action:    a.action(a.invalidate),
		},
	}
}

func forceFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "force",
		Aliases: []string{"f"},
		Usage:   "Read from the contract even when the cache is fresh",
	}
}

func firstArg(c *cli.Command, name string) (string, error) {
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("%w: %s", ErrArgRequired, name)
	}
	return c.Args().First(), nil
}

type statsView struct {
	cache.Stats
	SchemaVersion int64 `json:"schemaVersion"`
}

func (a *App) stats(ctx context.Context, _ *cli.Command, d *Dependencies) error {
	s, err := d.Cache.GetStats(ctx)
	if err != nil {
		return err
	}
	v, err := d.Cache.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	return a.print(statsView{Stats: s, SchemaVersion: v})
}

func (a *App) clear(ctx context.Context, c *cli.Command, d *Dependencies) error {
	if err := d.Cache.ClearAllCache(ctx); err != nil {
		return err
	}
	if c.Bool("prefs") {
		if err := d.Cache.ClearUserPreferences(ctx); err != nil {
			return err
		}
	}
	d.Logger.Info(ctx, "cache cleared", "prefs", c.Bool("prefs"))
	return nil
}

func (a *App) sweep(ctx context.Context, c *cli.Command, d *Dependencies) error {
	if c.Bool("watch") {
		if d.Config.SweepInterval <= 0 {
			return fmt.Errorf("sweep --watch needs a positive sweep interval")
		}
		d.Cache.RunSweeper(ctx, d.Config.SweepInterval)
		return nil
	}

	n, err := d.Cache.CleanupExpiredCache(ctx)
	if err != nil {
		return err
	}
	return a.print(map[string]int{"removed": n})
}

func (a *App) profile(ctx context.Context, c *cli.Command, d *Dependencies) error {
	addr, err := firstArg(c, "ADDRESS")
	if err != nil {
		return err
	}
	p, err := d.Loader.Profile(ctx, addr, c.Bool("force"))
	if err != nil {
		return err
	}
	return a.print(p)
}

func (a *App) posts(ctx context.Context, c *cli.Command, d *Dependencies) error {
	var (
		posts []cache.Post
		err   error
	)
	if author := c.String("author"); author != "" {
		posts, err = d.Loader.PostsByAuthor(ctx, author, c.Bool("force"))
	} else {
		posts, err = d.Loader.AllPosts(ctx, c.Bool("force"))
	}
	if err != nil {
		return err
	}
	if posts == nil {
		posts = []cache.Post{}
	}
	return a.print(posts)
}

func (a *App) post(ctx context.Context, c *cli.Command, d *Dependencies) error {
	arg, err := firstArg(c, "ID")
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid post id %q: %w", arg, err)
	}
	p, err := d.Loader.Post(ctx, id, c.Bool("force"))
	if err != nil {
		return err
	}
	return a.print(p)
}

func (a *App) prefs(ctx context.Context, c *cli.Command, d *Dependencies) error {
	addr, err := firstArg(c, "ADDRESS")
	if err != nil {
		return err
	}

	if !c.IsSet("theme") && !c.IsSet("notifications") && !c.IsSet("auto-refresh") && !c.IsSet("timeout") {
		p, err := d.Cache.GetUserPreferencesWithDefaults(ctx, addr)
		if err != nil {
			return err
		}
		return a.print(p)
	}

	p, err := d.Cache.UpdateUserPreferences(ctx, addr, func(p *cache.Preferences) {
		if c.IsSet("theme") {
			p.Theme = cache.Theme(c.String("theme"))
		}
		if c.IsSet("notifications") {
			p.Notifications = c.Bool("notifications")
		}
		if c.IsSet("auto-refresh") {
			p.AutoRefresh = c.Bool("auto-refresh")
		}
		if c.IsSet("timeout") {
			p.CacheTimeout = int(c.Int("timeout"))
		}
	})
	if err != nil {
		return err
	}
	return a.print(p)
}

func (a *App) entry(ctx context.Context, c *cli.Command, d *Dependencies) error {
	key, err := firstArg(c, "KEY")
	if err != nil {
		return err
	}
	e, err := d.Cache.GetCacheEntry(ctx, key)
	if err != nil {
		return err
	}
	if e == nil {
		return a.print(nil)
	}
	return a.print(e)
}

func (a *App) invalidate(ctx context.Context, c *cli.Command, d *Dependencies) error {
	key, err := firstArg(c, "KEY")
	if err != nil {
		return err
	}
	return d.Cache.Invalidate(ctx, key)
}
