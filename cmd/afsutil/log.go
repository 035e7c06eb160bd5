package main

import (
	"log"
	"os"
)

func defaultLogger() *log.Logger {
	return log.New(os.Stderr, "afsutil: ", log.LstdFlags)
}
