package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Zerr0-C00L/streamgate/internal/app"
	"github.com/Zerr0-C00L/streamgate/internal/config"
	"github.com/Zerr0-C00L/streamgate/internal/models"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// withApp builds the services for one command and closes them afterwards.
// Logs go to stderr so table and JSON output stay clean. The response cache
// stays with the running server.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg, cfg.Logging.Logger(cmd.ErrOrStderr()), app.WithoutResponseCache())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// contentKeyFromArgs reads "<movie|series> <id>" plus the --season and
// --episode flags.
func contentKeyFromArgs(cmd *cobra.Command, args []string) (models.ContentKey, error) {
	key := models.ContentKey{MediaType: strings.ToLower(args[0]), ContentID: args[1]}
	var err error
	if key.Season, key.Episode, err = positionFlags(cmd); err != nil {
		return key, err
	}
	if err := key.Validate(); err != nil {
		return key, fmt.Errorf("%s: %w", key, err)
	}
	return key, nil
}

// positionFlags returns --season and --episode, nil when not given.
func positionFlags(cmd *cobra.Command) (season, episode *int, err error) {
	if season, err = optionalIntFlag(cmd, "season"); err != nil {
		return nil, nil, err
	}
	if episode, err = optionalIntFlag(cmd, "episode"); err != nil {
		return nil, nil, err
	}
	return season, episode, nil
}

func optionalIntFlag(cmd *cobra.Command, name string) (*int, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func addPositionFlags(cmd *cobra.Command) {
	cmd.Flags().Int("season", 0, "Season number")
	cmd.Flags().Int("episode", 0, "Episode number")
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
