package main

import (
	"github.com/fatih/color"
)

func Cyan(s string) string {
	cyan := color.New(color.FgHiCyan)
	return cyan.SprintFunc()(s)
}

func Green(s string) string {
	green := color.New(color.FgHiGreen)
	return green.SprintFunc()(s)
}

func Red(s string) string {
	red := color.New(color.FgHiRed)
	return red.SprintFunc()(s)
}
