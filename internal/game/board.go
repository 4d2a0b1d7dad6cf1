package game

import (
	"fmt"
	"math/rand/v2"
)

// Board is the terrain grid, indexed [row][col].
type Board [][]Cell

func NewBoard(rows, cols int) Board {
	b := make(Board, rows)
	for i := range b {
		b[i] = make([]Cell, cols)
	}
	return b
}

func (b Board) Rows() int { return len(b) }

func (b Board) Cols() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

func (b Board) In(p Position) bool {
	return p.Row >= 0 && p.Row < b.Rows() && p.Col >= 0 && p.Col < b.Cols()
}

func (b Board) At(p Position) Cell { return b[p.Row][p.Col] }

func (b Board) Set(p Position, c Cell) { b[p.Row][p.Col] = c }

func (b Board) clone() [][]Cell {
	out := make([][]Cell, len(b))
	for i := range b {
		out[i] = append([]Cell(nil), b[i]...)
	}
	return out
}

// SpawnPoints lists the start cells of a rows×cols grid: inner corners
// first, then edge midpoints.
func SpawnPoints(rows, cols int) []Position {
	return []Position{
		{Row: 1, Col: 1},
		{Row: 1, Col: cols - 2},
		{Row: rows - 2, Col: 1},
		{Row: rows - 2, Col: cols - 2},
		{Row: 1, Col: cols / 2},
		{Row: rows - 2, Col: cols / 2},
		{Row: rows / 2, Col: 1},
		{Row: rows / 2, Col: cols - 2},
	}
}

// Layout is a generated board together with the items hidden in its blocks.
type Layout struct {
	Board  Board
	Hidden map[Position]ItemKind
}

// Generate builds a board for the given number of players. Border and
// even/even cells are walls, spawn neighbourhoods are cleared, and the rest
// are blocks with probability rules.BlockChance.
func Generate(rules Rules, players int, rng *rand.Rand) (Layout, error) {
	if rules.Rows%2 == 0 || rules.Cols%2 == 0 || rules.Rows < 5 || rules.Cols < 5 {
		return Layout{}, fmt.Errorf("grid must be odd-sized and at least 5x5, got %dx%d", rules.Rows, rules.Cols)
	}
	spawns := SpawnPoints(rules.Rows, rules.Cols)
	if players > len(spawns) {
		return Layout{}, fmt.Errorf("%d players exceed %d spawn points", players, len(spawns))
	}

	board := NewBoard(rules.Rows, rules.Cols)
	var blocks []Position
	for r := 0; r < rules.Rows; r++ {
		for c := 0; c < rules.Cols; c++ {
			p := Position{Row: r, Col: c}
			switch {
			case r == 0 || c == 0 || r == rules.Rows-1 || c == rules.Cols-1:
				board.Set(p, Wall)
			case r%2 == 0 && c%2 == 0:
				board.Set(p, Wall)
			case nearSpawn(p, spawns, rules.SafeRadius):
				board.Set(p, Empty)
			case rng.Float64() < rules.BlockChance:
				board.Set(p, Block)
				blocks = append(blocks, p)
			}
		}
	}

	rng.Shuffle(len(blocks), func(i, j int) {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	})

	hidden := make(map[Position]ItemKind)
	kinds := []ItemKind{ItemLife, ItemRange, ItemBomb}
	for i, p := range blocks {
		k := i / max(players, 1)
		if players == 0 || k >= len(kinds) {
			break
		}
		hidden[p] = kinds[k]
	}

	return Layout{Board: board, Hidden: hidden}, nil
}

func nearSpawn(p Position, spawns []Position, radius int) bool {
	for _, s := range spawns {
		if abs(p.Row-s.Row)+abs(p.Col-s.Col) <= radius {
			return true
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
