package standings

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewRefresher_Rate(t *testing.T) {
	Convey("Given a refresh rate", t, func() {
		So(NewRefresher(100, nil, nil).interval, ShouldEqual, 10*time.Millisecond)
		So(NewRefresher(5, nil, nil).interval, ShouldEqual, 200*time.Millisecond)

		Convey("A non-positive rate falls back to once a second", func() {
			So(NewRefresher(0, nil, nil).interval, ShouldEqual, time.Second)
			So(NewRefresher(-3, nil, nil).interval, ShouldEqual, time.Second)
		})
	})
}
