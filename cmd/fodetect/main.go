// Package main - точка входа fodetect: веб-сервер детекции посторонних объектов
// и служебные команды (add-admin, audit).
package main

import (
	"fmt"
	"os"

	"fodetect/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
