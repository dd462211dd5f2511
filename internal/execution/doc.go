// Package execution provides the executors that turn a scenario's load shape into
// iteration starts over a bounded pool of virtual users. It supports constant and
// ramping VUs, constant and ramping arrival rates, and per-VU and shared
// iteration counts.
package execution
