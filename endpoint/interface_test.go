package endpoint

import (
	"context"
	"testing"

	cv "github.com/glycerine/goconvey/convey"

	"duplex-rpc/transport"
)

func TestInterfaceStubCache(t *testing.T) {
	cv.Convey("stubs are built once and evicted least recently used first", t, func() {
		ta, tb := transport.Pipe()
		server, _ := NewProviderEndpoint(ta, &testProvider{})
		client := New(tb, WithStubCacheSize(2))
		defer server.Close()
		defer client.Close()

		i := client.Remote()
		cv.So(i.Endpoint(), cv.ShouldEqual, client)
		cv.So(client.Remote(), cv.ShouldEqual, i)

		_, err := i.Invoke("foo", 1, 2)
		cv.So(err, cv.ShouldBeNil)
		_, _ = i.Invoke("foo", 3, 4)
		cv.So(i.Cached(), cv.ShouldEqual, 1)

		_, _ = i.Invoke("a")
		_, _ = i.Invoke("b")
		cv.So(i.Cached(), cv.ShouldEqual, 2)

		// foo was evicted; calling it again still works.
		r, err := i.Invoke("foo", 5, 5)
		cv.So(err, cv.ShouldBeNil)
		cv.So(r, cv.ShouldEqual, "Foo: 10, none")
		cv.So(i.Cached(), cv.ShouldEqual, 2)
	})
}

func TestInterfaceAsync(t *testing.T) {
	cv.Convey("Async returns a promise that completes with the remote outcome", t, func() {
		ta, tb := transport.Pipe()
		server, _ := NewProviderEndpoint(ta, &testProvider{})
		client := New(tb)
		defer server.Close()
		defer client.Close()

		ok := client.Remote().Async("foo", []any{2, 2}, nil)
		bad := client.Remote().Async("foo", []any{"x", "y"}, nil)

		r, err := ok.Wait(context.Background())
		cv.So(err, cv.ShouldBeNil)
		cv.So(r, cv.ShouldEqual, "Foo: 4, none")

		_, err = bad.Wait(context.Background())
		cv.So(remoteClass(err), cv.ShouldEqual, "TypeError")
		cv.So(err.(*RemoteError).Data, cv.ShouldResemble, []any{"x", "y"})
	})
}
