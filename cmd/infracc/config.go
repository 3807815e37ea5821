package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asmeyatsky/infracc-sub002/internal/config"
	"github.com/asmeyatsky/infracc-sub002/internal/home"
	"github.com/asmeyatsky/infracc-sub002/internal/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage infracc configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := dir.EnsureExists(); err != nil {
			return err
		}
		if dir.ConfigExists() {
			return fmt.Errorf("config already exists at %s", dir.ConfigPath())
		}
		if err := config.WriteDefault(dir.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", dir.ConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		return output.Print(a.cfg.Get())
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
