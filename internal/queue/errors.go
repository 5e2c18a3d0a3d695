package queue

import "errors"

var (
	errNoFiles     = errors.New("queue: split requires at least one file")
	errJobNotFound = errors.New("queue: source job not found")
)
