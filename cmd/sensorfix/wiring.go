package main

import (
	"context"
	"fmt"

	"sensorfix/internal/catalog"
	"sensorfix/internal/devtree"
	"sensorfix/internal/installer"
	"sensorfix/internal/integrity"
	"sensorfix/internal/locale"
	"sensorfix/internal/probe"
	"sensorfix/internal/repair"
)

// engine is everything a repair needs, resolved from the config.
type engine struct {
	catalog   *catalog.Catalog
	strings   locale.Provider
	manager   devtree.Manager
	probe     probe.StatusProvider
	integrity integrity.Checker
	launcher  integrity.Launcher
	dryRun    bool
}

func (c *cli) engine() (*engine, error) {
	e := &engine{catalog: catalog.Default()}

	if c.cfg.Catalog != "" {
		cat, err := catalog.Load(c.cfg.Catalog)
		if err != nil {
			return nil, err
		}
		e.catalog = cat
	}
	if c.cfg.Strings != "" {
		table, err := locale.Load(c.cfg.Strings)
		if err != nil {
			return nil, err
		}
		e.strings = table
	}

	switch {
	case len(c.cfg.ProbeCommand) > 0:
		e.probe = probe.Command{Path: c.cfg.ProbeCommand[0], Args: c.cfg.ProbeCommand[1:]}
	case c.cfg.ProbeModule != "":
		e.probe = probe.Module{Path: c.cfg.ProbeModule}
	default:
		e.probe = probe.Unavailable()
	}

	if c.cfg.Fixture != "" {
		mgr, err := devtree.LoadFixture(c.cfg.Fixture)
		if err != nil {
			return nil, err
		}
		e.manager = mgr
		e.dryRun = true
		e.integrity = integrity.Static(false)
		e.launcher = integrity.LauncherFunc(func(_ context.Context, uri string) error {
			c.log.Info().Str("uri", uri).Msg("dry run: not opening security settings")
			return nil
		})
		return e, nil
	}

	runner := installer.NewExecRunner(c.log)
	runner.Ceiling = c.cfg.InstallCeiling
	e.manager = devtree.NewSystemManager(runner)
	e.integrity = integrity.NewSystemChecker()
	e.launcher = integrity.NewShellLauncher()
	return e, nil
}

func (c *cli) registry(e *engine, notifier repair.Notifier, observer repair.Observer) (*repair.Registry, error) {
	deps := repair.Deps{
		Manager:     e.manager,
		Catalog:     e.catalog,
		Probe:       e.probe,
		Integrity:   e.integrity,
		BundleDir:   c.cfg.BundleDir,
		ScratchRoot: c.cfg.ScratchDir,
		Observer:    observer,
	}
	host := repair.Host{
		Log:      c.log,
		Strings:  e.strings,
		Notifier: notifier,
		Launcher: e.launcher,
	}
	reg, err := repair.NewRegistry(deps, host, repair.Defaults(e.catalog)...)
	if err != nil {
		return nil, fmt.Errorf("register defects: %w", err)
	}
	return reg, nil
}
