package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveActivity(t *testing.T) {
	card := Card{ID: 9, Position: 2}

	t.Run("within list stays off the board feed", func(t *testing.T) {
		got := moveActivity(4, card, 1, 30, "", List{ID: 30, BoardID: 1})
		require.Len(t, got, 1)
		assert.Equal(t, "card.reordered", got[0].Action)
		assert.False(t, got[0].BoardVisible)
	})

	t.Run("across lists on one board", func(t *testing.T) {
		got := moveActivity(4, card, 1, 30, "Todo", List{ID: 31, BoardID: 1, Title: "Done"})
		require.Len(t, got, 1)
		assert.Equal(t, int64(1), got[0].BoardID)
		assert.Equal(t, "card.moved", got[0].Action)
		assert.True(t, got[0].BoardVisible)
		assert.Equal(t, "Todo", got[0].Data["fromList"])
		assert.Equal(t, "Done", got[0].Data["toList"])
		assert.NotContains(t, got[0].Data, "fromBoardId")
	})

	t.Run("across boards lands on both feeds", func(t *testing.T) {
		got := moveActivity(4, card, 1, 30, "Todo", List{ID: 70, BoardID: 2, Title: "Inbox"})
		require.Len(t, got, 2)
		assert.ElementsMatch(t, []int64{1, 2}, []int64{got[0].BoardID, got[1].BoardID})
		for _, e := range got {
			assert.Equal(t, "card.moved", e.Action)
			assert.True(t, e.BoardVisible)
			assert.Equal(t, int64(9), *e.CardID)
			assert.Equal(t, int64(4), *e.ActorID)
			assert.Equal(t, int64(1), e.Data["fromBoardId"])
		}
	})
}
